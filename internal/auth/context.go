package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
	RoleSystem   = "system"

	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"

	userContextKey = "user_context"
)

// UserContext is the identity asserted by the upstream gateway.
type UserContext struct {
	UserID string
	Role   string
}

func (u UserContext) IsStaff() bool {
	switch u.Role {
	case RoleStaff, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// ActorID returns a pointer suitable for nullable audit columns.
func (u UserContext) ActorID() *string {
	if u.UserID == "" {
		return nil
	}
	id := u.UserID
	return &id
}

// System is the identity used by background consumers.
func System() UserContext {
	return UserContext{Role: RoleSystem}
}

// Middleware rejects requests without a user id and stores the identity on the gin context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderRole)))
		if role == "" || role == RoleSystem {
			role = RoleCustomer
		}
		c.Set(userContextKey, UserContext{UserID: userID, Role: role})
		c.Next()
	}
}

func GetUserContext(c *gin.Context) UserContext {
	if val, ok := c.Get(userContextKey); ok {
		if u, ok := val.(UserContext); ok {
			return u
		}
	}
	return UserContext{}
}
