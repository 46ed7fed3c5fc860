package auth

import (
	"github.com/labstack/echo/v4"
)

// ContextKey is where the JWT middleware stores *JWTClaims on the echo context.
const ContextKey = "user"

// Identity is the authenticated caller of a request.
type Identity struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Access      string `json:"access"`
}

// CurrentIdentity reads the caller from the request's verified JWT claims.
func CurrentIdentity(c echo.Context) (Identity, bool) {
	claims, ok := c.Get(ContextKey).(*JWTClaims)
	if !ok || claims == nil || claims.Email == "" {
		return Identity{}, false
	}
	return Identity{Email: claims.Email, DisplayName: claims.Name, Access: claims.Access}, true
}

// IdentityObserver is notified when a user registers or signs in.
type IdentityObserver func(Identity)
