package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/booking-core/internal/dto"
	"github.com/ignatzorin/booking-core/internal/logger"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// ErrorHandler превращает ошибки из c.Errors в ответ API.
// AppError отдаётся клиенту как есть, всё остальное маскируется под 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, body := renderError(err)

		entry := logger.Log.WithFields(logrus.Fields{
			"error":  err.Error(),
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"status": status,
		})
		if status >= http.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Info("request rejected")
		}

		c.JSON(status, body)
	}
}

func renderError(err error) (int, dto.ErrorResponse) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, dto.ErrorResponse{
			Error: "внутренняя ошибка сервера",
			Code:  string(apperror.ErrCodeInternal),
		}
	}

	body := dto.ErrorResponse{
		Error:     appErr.Message,
		Code:      string(appErr.Code),
		Retryable: apperror.IsRetryable(appErr),
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError && appErr.Code == apperror.ErrCodeInternal {
		body.Error = "внутренняя ошибка сервера"
	}
	return appErr.HTTPStatus, body
}
