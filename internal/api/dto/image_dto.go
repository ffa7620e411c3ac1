package dto

type UploadURLRequest struct {
	MimeType string `json:"mimeType"`
}

type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	ImageID   string `json:"imageId"`
	ImageKey  string `json:"imageKey"`
}

type ListPhotosResponse struct {
	Photos []PhotoDTO `json:"photos"`
}

type PhotoDTO struct {
	ID           string                `json:"id"`
	CreatedAt    string                `json:"createdAt"`
	OriginalURL  string                `json:"originalUrl"`
	Restorations []PhotoRestorationDTO `json:"restorations"`
}

type PhotoRestorationDTO struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	URL       string `json:"url,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
