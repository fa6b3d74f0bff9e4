package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// Ключи gin.Context, под которыми хранится личность вызывающего.
const (
	ContextUserIDKey = "userID"
	ContextRoleKey   = "role"
)

// bearerToken достаёт JWT из заголовка Authorization.
func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
		Error: message,
		Code:  string(apperror.ErrCodeUnauthorized),
	})
}

// AuthMiddleware проверяет access токен платформы и кладёт в контекст
// идентификатор и роль вызывающего. Токены выпускает внешний сервис
// авторизации, здесь они только проверяются.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "требуется авторизация")
			return
		}

		userID, role, err := tokens.ParseAccess(raw)
		if err != nil || userID == uuid.Nil {
			abortUnauthorized(c, "токен невалиден")
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextRoleKey, role)
		c.Next()
	}
}

// RequireAdmin пускает дальше только администраторов. Вешается после
// AuthMiddleware на маршруты арбитража.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ContextRoleKey)
		if role != service.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{
				Error: "недостаточно прав",
				Code:  string(apperror.ErrCodeForbidden),
			})
			return
		}
		c.Next()
	}
}
