// Package middleware содержит HTTP middleware checkout API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/tap-checkout/pkg/jwt"
	"example.com/tap-checkout/pkg/logger"
)

// Ключи gin.Context, которые выставляет AuthMiddleware.
const (
	KeyUserID = "user_id"
	KeyAdmin  = "admin"
	KeyJTI    = "jti"
)

// TokenValidator проверяет access токен. Реализуется *jwt.Manager.
type TokenValidator interface {
	ValidateWithBlacklist(ctx context.Context, tokenString string) (*jwt.Claims, error)
}

// AuthMiddleware — проверка JWT токенов витрины.
// Подпись, срок действия и blacklist проверяются локально по публичному ключу.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware создаёт middleware аутентификации.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := ExtractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			abortUnauthorized(c, "Требуется авторизация")
			return
		}

		claims, err := m.validator.ValidateWithBlacklist(ctx, token)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			abortUnauthorized(c, "Невалидный токен")
			return
		}
		if claims.CustomerID == 0 && !claims.IsAdmin() {
			abortUnauthorized(c, "Токен не содержит пользователя")
			return
		}

		c.Set(KeyUserID, claims.CustomerID)
		c.Set(KeyAdmin, claims.IsAdmin())
		c.Set(KeyJTI, claims.ID)

		log.Debug().
			Uint64("user_id", claims.CustomerID).
			Bool("admin", claims.IsAdmin()).
			Msg("Пользователь аутентифицирован")

		c.Next()
	}
}

// RequireAdmin пропускает только токены с ролью admin. Ставится после Handle.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(KeyAdmin) {
			logger.Ctx(c.Request.Context()).Warn().
				Uint64("user_id", c.GetUint64(KeyUserID)).
				Str("path", c.FullPath()).
				Msg("Попытка доступа к admin маршруту")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Требуются права администратора",
			})
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}

// ExtractBearerToken извлекает токен из заголовка "Authorization: Bearer <token>".
// Префикс без учёта регистра.
func ExtractBearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
