package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
)

// ContextUserIDKey is where the authenticated user ID lands in the gin
// context. Absent means the request is anonymous.
const ContextUserIDKey = "userID"

// ContextRolesKey is where the authenticated user's roles land in the gin
// context.
const ContextRolesKey = "userRoles"

// Auth validates a bearer token from the identity collaborator and stores
// the user ID and roles in the request context. With required=false an
// invalid or missing token degrades to an anonymous request instead of
// failing it; votes from anonymous users are rejected downstream by the
// voting engine. Any requiredRoles must all be present in the token's
// "roles" claim, otherwise the request fails with 403.
func Auth(jwtSecret string, required bool, logger *zap.Logger, requiredRoles ...string) gin.HandlerFunc {
	log := logger.Named("AuthMiddleware")
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
				return
			}
			c.Next()
			return
		}

		userID, roles, err := ParseClaims(tokenString, jwtSecret)
		if err != nil {
			log.Warn("Rejected token", zap.Error(err), zap.String("path", c.FullPath()))
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.Next()
			return
		}

		for _, role := range requiredRoles {
			if !models.HasRole(roles, role) {
				log.Warn("Missing required role",
					zap.String("userID", userID),
					zap.Strings("roles", roles),
					zap.String("required", role))
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
				return
			}
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextRolesKey, roles)
		c.Next()
	}
}

// ParseClaims verifies an HMAC-signed JWT and returns its subject and the
// roles claim.
func ParseClaims(tokenString, jwtSecret string) (string, []string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", nil, fmt.Errorf("invalid token claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", nil, fmt.Errorf("token has no subject")
	}
	var roles []string
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				roles = append(roles, s)
			}
		}
	}
	return sub, roles, nil
}

// ParseUserID verifies an HMAC-signed JWT and returns its subject claim.
func ParseUserID(tokenString, jwtSecret string) (string, error) {
	sub, _, err := ParseClaims(tokenString, jwtSecret)
	return sub, err
}

// CurrentUserID returns the authenticated user ID, or "" for anonymous
// requests.
func CurrentUserID(c *gin.Context) string {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return ""
	}
	userID, _ := v.(string)
	return userID
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	// WebSocket clients cannot set headers from the browser; allow a query
	// parameter fallback.
	return c.Query("token")
}
