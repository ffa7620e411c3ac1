package dto

type StartRestorationRequest struct {
	ImageID    string `json:"imageId" binding:"required"`
	Resolution string `json:"resolution"`
	ImageCount int    `json:"imageCount"`
}

type InlineRestorationRequest struct {
	Image      string `json:"image" binding:"required"`
	MimeType   string `json:"mimeType"`
	Resolution string `json:"resolution"`
	ImageCount int    `json:"imageCount"`
}

type StartRestorationResponse struct {
	Handle  string `json:"handle"`
	ImageID string `json:"imageId,omitempty"`
}

type ListRunsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"limit"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Restorations []RunDTO `json:"restorations"`
	NextCursor   string   `json:"nextCursor,omitempty"`
}

type RunDTO struct {
	Handle      string `json:"handle"`
	Status      string `json:"status"`
	ImageID     string `json:"imageId,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	CreatedAt   string `json:"createdAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}
