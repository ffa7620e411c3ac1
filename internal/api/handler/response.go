package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/photo-restore/internal/api/dto"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"

	identityKey = "identity"
)

// Identity is the caller as asserted by the upstream gateway
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// RequireIdentity rejects requests without an X-User-ID header with 401
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
				Error: dto.ErrorBody{Code: "UNAUTHENTICATED", Message: "Authentication required"},
			})
			return
		}

		c.Set(identityKey, Identity{
			UserID: userID,
			Email:  strings.TrimSpace(c.GetHeader(HeaderUserEmail)),
			Name:   strings.TrimSpace(c.GetHeader(HeaderUserName)),
		})
		c.Next()
	}
}

func identity(c *gin.Context) Identity {
	id, _ := c.MustGet(identityKey).(Identity)
	return id
}

// statusFor maps an error code onto an HTTP status
func statusFor(code string) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidArgument, domain.CodeInsufficientCredits:
		return http.StatusBadRequest
	case domain.CodeUpstreamGeneration, domain.CodeStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope for err. Details of validation errors are returned to
// the caller; everything else gets the opaque message of its code.
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	code := domain.Code(err)
	status := statusFor(code)

	message := domain.PublicMessage(code)
	if errors.Is(err, domain.ErrInvalidArgument) {
		message = err.Error()
	}

	if status >= http.StatusInternalServerError {
		logger.Error(msg, slog.String("error_code", code), slog.String("error", err.Error()))
	} else {
		logger.Warn(msg, slog.String("error_code", code), slog.String("error", err.Error()))
	}

	c.JSON(status, dto.ErrorResponse{Error: dto.ErrorBody{Code: code, Message: message}})
}

// CodePayloadTooLarge is returned when a request body exceeds its limit
const CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"

// PayloadTooLarge writes the 413 error envelope
func PayloadTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
		Error: dto.ErrorBody{Code: CodePayloadTooLarge, Message: "Request body is too large"},
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error: dto.ErrorBody{Code: domain.CodeInvalidArgument, Message: message},
	})
}
