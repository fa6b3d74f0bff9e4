package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки, сложенные хэндлерами в c.Errors.
// Типизированные ошибки домена переводятся в свой HTTP-статус и код,
// всё остальное маскируется как внутренняя ошибка сервера.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			// Нарушение инварианта всегда уходит в лог как фатальное расхождение.
			if appErr.Code == apperror.ErrCodeInvariant && logger.Log != nil {
				logger.Log.WithFields(logrus.Fields{
					"error":  appErr.Error(),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("Нарушение инварианта леджера")
			}

			body := gin.H{"error": appErr.Message, "code": string(appErr.Code)}
			if appErr.Code == apperror.ErrCodeActiveDealExists {
				body["existing_deal_id"] = appErr.DealID
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Error("Request error")
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка сервера"})
	}
}
