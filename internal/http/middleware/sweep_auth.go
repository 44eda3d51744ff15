package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// SweepCredentialHeader заголовок со служебным учётным данным планировщика.
const SweepCredentialHeader = "X-Sweep-Credential"

// SweepAuth защищает служебный триггер авто-аппрувов. Вместо пользовательского
// JWT проверяется отдельное ротируемое учётное данное системного актора,
// в конфигурации хранится только его bcrypt-хэш.
func SweepAuth(credentialHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(SweepCredentialHeader)
		if raw == "" || credentialHash == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "требуется служебное учётное данное"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(credentialHash), []byte(raw)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "служебное учётное данное невалидно"})
			return
		}
		c.Next()
	}
}
