package mw

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextUserID is the gin context key under which DashboardAuth stores
// the authenticated user's ID.
const ContextUserID = "usuario_id"

// Claims are the dashboard token claims issued by the clinic web app.
type Claims struct {
	UserID int64  `json:"usuario_id"`
	Rol    string `json:"rol"`
	jwt.RegisteredClaims
}

// ParseDashboardToken validates an HS256 dashboard JWT and returns its
// claims.
func ParseDashboardToken(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, errors.New("auth: token expired")
	}
	return claims, nil
}

// DashboardAuth is the human credential of the boundary: a bearer JWT
// issued by the clinic web application. Device routes never use this.
func DashboardAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		claims, err := ParseDashboardToken(tokenString, []byte(secret))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "credencial inválida"})
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}
