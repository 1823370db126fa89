package identity

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
)

// Role is a membership role within the workspace owning a video.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole maps a claim value to a Role. Unknown values map to viewer.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner
	case RoleAdmin:
		return RoleAdmin
	case RoleEditor:
		return RoleEditor
	}
	return RoleViewer
}

// CanWrite reports whether the role may modify documents.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleEditor
}

// Actor is the acting user as established by the auth layer.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

func (a Actor) CanWrite() bool { return a.Role.CanWrite() }

var ErrNoSubject = errors.New("claims carry no subject")

// FromClaims builds an Actor from verified token claims. The role is read from
// "role", falling back to Keycloak's realm_access.roles.
func FromClaims(claims map[string]interface{}) (Actor, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Actor{}, ErrNoSubject
	}
	a := Actor{ID: sub, Role: RoleViewer}
	for _, k := range []string{"name", "preferred_username", "email"} {
		if v, ok := claims[k].(string); ok && v != "" {
			a.Name = v
			break
		}
	}
	if r, ok := claims["role"].(string); ok && r != "" {
		a.Role = ParseRole(r)
		return a, nil
	}
	if ra, ok := claims["realm_access"].(map[string]interface{}); ok {
		if roles, ok := ra["roles"].([]interface{}); ok {
			a.Role = strongest(roles)
		}
	}
	return a, nil
}

func strongest(roles []interface{}) Role {
	rank := map[Role]int{RoleViewer: 0, RoleEditor: 1, RoleAdmin: 2, RoleOwner: 3}
	best := RoleViewer
	for _, v := range roles {
		s, ok := v.(string)
		if !ok {
			continue
		}
		r := ParseRole(s)
		if rank[r] > rank[best] {
			best = r
		}
	}
	return best
}

const contextKey = "actor"

// Set stores the actor on the gin context.
func Set(c *gin.Context, a Actor) { c.Set(contextKey, a) }

// FromContext returns the actor stored by Set.
func FromContext(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Actor{}, false
	}
	a, ok := v.(Actor)
	return a, ok
}
