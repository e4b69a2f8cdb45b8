package util

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope of every API reply. Code is 0 on success and -1 on failure.
type Response struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

func Success(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Data:    data,
		Message: message,
	})
}

// Error replies with status and the message of err, which may be a string or an error.
// Client errors are logged as warnings, server errors as errors.
func Error(c *gin.Context, status int, err interface{}) {
	msg := ""
	switch e := err.(type) {
	case string:
		msg = e
	case error:
		msg = e.Error()
	default:
		msg = "Internal Server Error"
	}

	if status >= http.StatusInternalServerError {
		zap.S().Errorf("API error on %s %s: %s", c.Request.Method, c.FullPath(), msg)
	} else {
		zap.S().Warnf("API request rejected on %s %s (%d): %s", c.Request.Method, c.FullPath(), status, msg)
	}

	c.JSON(status, Response{
		Code:    -1,
		Data:    nil,
		Message: msg,
	})
}
