package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope represents the common response contract.
type Envelope struct {
	Status     string              `json:"status"`
	Message    string              `json:"message,omitempty"`
	Code       string              `json:"code,omitempty"`
	Data       interface{}         `json:"data,omitempty"`
	Errors     map[string][]string `json:"errors,omitempty"`
	Pagination *models.Pagination  `json:"pagination,omitempty"`
}

var debug bool

// SetDebug toggles exposure of internal error causes in responses.
func SetDebug(enabled bool) {
	debug = enabled
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination) {
	noStore(c)
	c.JSON(status, Envelope{Status: StatusSuccess, Data: data, Pagination: pagination})
}

// Message sends a success response carrying a human readable message.
func Message(c *gin.Context, status int, message string, data interface{}) {
	noStore(c)
	c.JSON(status, Envelope{Status: StatusSuccess, Message: message, Data: data})
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	message := appErr.Message
	if debug && appErr.Status >= http.StatusInternalServerError && appErr.Err != nil {
		message = appErr.Error()
	}
	if appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	noStore(c)
	c.AbortWithStatusJSON(appErr.Status, Envelope{
		Status:  StatusError,
		Message: message,
		Code:    appErr.Code,
		Errors:  appErr.Fields,
	})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
