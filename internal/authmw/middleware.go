package authmw

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"kyri56xcaesar/teamcore/internal/models"
)

const (
	identityKey  = "tc.identity"
	cookieName   = "auth_token"
	touchEvery   = time.Minute
	bearerPrefix = "bearer "
)

var ErrMissingToken = errors.New("missing access token")

// Identity is the acting user of one request. Engines receive its fields as
// explicit arguments and never look it up on their own.
type Identity struct {
	UserID             int64
	Email              string
	Role               models.Role
	MustChangePassword bool
}

func (id Identity) IsAdmin() bool { return id.Role == models.RoleAdmin }

// Authenticator turns a bearer token into an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// Toucher records user activity (lastSeenAt).
type Toucher interface {
	Touch(ctx context.Context, userID int64, at time.Time) error
}

// PendingChecker reports whether a user still has to change their password.
// A Toucher that also implements it lets the guard retire tokens issued
// before the change.
type PendingChecker interface {
	MustChangePassword(ctx context.Context, userID int64) (bool, error)
}

type Guard struct {
	auth    Authenticator
	toucher Toucher
	pending PendingChecker
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[int64]time.Time
}

func NewGuard(auth Authenticator, toucher Toucher) *Guard {
	g := &Guard{
		auth:     auth,
		toucher:  toucher,
		now:      time.Now,
		lastSeen: map[int64]time.Time{},
	}
	if pc, ok := toucher.(PendingChecker); ok {
		g.pending = pc
	}
	return g
}

// Authenticated admits any valid token, including ones that still have to
// change their password.
func (g *Guard) Authenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := g.identify(c)
		if !ok {
			return
		}
		if id.MustChangePassword && g.pending != nil {
			still, err := g.pending.MustChangePassword(c.Request.Context(), id.UserID)
			if err != nil {
				log.Printf("failed to check the pending password change of user %d: %v", id.UserID, err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			if !still {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session superseded, sign in again"})
				return
			}
		}
		c.Next()
	}
}

// RequireRoles admits valid tokens holding any of the given roles.
func (g *Guard) RequireRoles(anyOf ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := g.identify(c)
		if !ok {
			return
		}

		if id.MustChangePassword {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "password change required"})
			return
		}

		if !hasAnyRole([]models.Role{id.Role}, anyOf...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}

		c.Next()
	}
}

func (g *Guard) identify(c *gin.Context) (Identity, bool) {
	tokenStr, err := extractAccessToken(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return Identity{}, false
	}

	id, err := g.auth.Authenticate(c.Request.Context(), tokenStr)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return Identity{}, false
	}

	// Put identity into context for handlers
	c.Set(identityKey, id)
	g.touch(c.Request.Context(), id.UserID)

	return id, true
}

func (g *Guard) touch(ctx context.Context, userID int64) {
	if g.toucher == nil {
		return
	}
	now := g.now()

	g.mu.Lock()
	last, seen := g.lastSeen[userID]
	if seen && now.Sub(last) < touchEvery {
		g.mu.Unlock()
		return
	}
	g.lastSeen[userID] = now
	g.mu.Unlock()

	if err := g.toucher.Touch(ctx, userID, now); err != nil {
		log.Printf("failed to update last seen for user %d: %v", userID, err)
	}
}

// IdentityFrom returns the identity stored by the guard.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok && id.UserID != 0
}

// MustIdentity aborts with 401 when no identity is present.
func MustIdentity(c *gin.Context) (Identity, bool) {
	id, ok := IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return Identity{}, false
	}
	return id, true
}

// SetSessionCookie mirrors the token into the cookie read by extractAccessToken.
func SetSessionCookie(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookieName, token, int(ttl.Seconds()), "/", "", false, true)
}

// --- helpers ---

func extractAccessToken(c *gin.Context) (string, error) {
	// 1) Authorization: Bearer <token>
	authz := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), bearerPrefix) {
		return strings.TrimSpace(authz[len(bearerPrefix):]), nil
	}

	// 2) cookie fallback
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie, nil
	}

	return "", ErrMissingToken
}

func hasAnyRole[R ~string](userRoles []R, anyOf ...R) bool {
	roleSet := make(map[R]struct{}, len(userRoles))
	for _, r := range userRoles {
		roleSet[r] = struct{}{}
	}
	for _, required := range anyOf {
		if _, ok := roleSet[required]; ok {
			return true
		}
	}
	return false
}
