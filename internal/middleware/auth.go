package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"authservice/internal/metrics"
	"authservice/internal/models"
	"authservice/internal/service"
)

// Gin context keys set by the guard.
const (
	UserKey  = "user"
	TokenKey = "token"
)

// Authorizer resolves a bearer token to a user holding one of roles.
type Authorizer interface {
	Authorize(ctx context.Context, token string, roles []models.Role) (*models.User, error)
}

// Policy is the access rule for one route. The zero value requires an
// authenticated user with any role.
type Policy struct {
	Public bool
	Roles  []models.Role
}

func Public() Policy                    { return Policy{Public: true} }
func Authenticated() Policy             { return Policy{} }
func Roles(roles ...models.Role) Policy { return Policy{Roles: roles} }

// PolicyTable maps "METHOD /full/path" to a Policy. It is filled while
// routes are registered and only read afterwards.
type PolicyTable struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewPolicyTable() *PolicyTable {
	return &PolicyTable{policies: map[string]Policy{}}
}

func (t *PolicyTable) Set(method, fullPath string, p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policies[method+" "+fullPath] = p
}

func (t *PolicyTable) Lookup(method, fullPath string) (Policy, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.policies[method+" "+fullPath]
	return p, ok
}

// AccessGuard enforces the policy table on every matched route.
type AccessGuard struct {
	authority Authorizer
	policies  *PolicyTable
	metrics   *metrics.Metrics
	log       *logrus.Logger
}

func NewAccessGuard(authority Authorizer, policies *PolicyTable, m *metrics.Metrics, log *logrus.Logger) *AccessGuard {
	return &AccessGuard{authority: authority, policies: policies, metrics: m, log: log}
}

// Handler creates a Gin middleware for bearer token authentication.
func (g *AccessGuard) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fullPath := c.FullPath()
		if fullPath == "" {
			// No route matched; let gin answer 404.
			c.Next()
			return
		}

		policy, _ := g.policies.Lookup(c.Request.Method, fullPath)
		if policy.Public {
			g.decide(metrics.DecisionPublic)
			c.Next()
			return
		}

		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			g.decide(metrics.DecisionNoToken)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": service.MsgNoToken})
			return
		}

		user, err := g.authority.Authorize(c.Request.Context(), token, policy.Roles)
		if err != nil {
			kind := service.KindOf(err)
			if kind == service.KindInternal {
				g.log.WithError(err).WithField("path", fullPath).Error("Authorization check failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
				return
			}
			g.log.WithField("path", fullPath).Debugf("Request rejected: %v", err)
			c.AbortWithStatusJSON(kind.HTTPStatus(), gin.H{"error": publicMessage(err)})
			return
		}

		c.Set(UserKey, user)
		c.Set(TokenKey, token)
		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), user))
		c.Next()
	}
}

func (g *AccessGuard) decide(decision string) {
	g.metrics.GuardDecisionsTotal.WithLabelValues(decision).Inc()
}

// BearerToken extracts the token from "Bearer <token>". The header must be
// exactly two space-separated parts with the scheme spelled "Bearer".
func BearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func publicMessage(err error) string {
	var e *service.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return service.MsgInvalidOrExpiredToken
}

type userCtxKey struct{}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, user)
}

// UserFromContext returns the user attached by the guard, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userCtxKey{}).(*models.User)
	return user, ok && user != nil
}

// CurrentUser returns the user the guard attached to c.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

// CurrentToken returns the raw bearer token the guard accepted.
func CurrentToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}
