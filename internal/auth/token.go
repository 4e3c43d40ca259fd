// Package auth issues and checks the HS256 tokens listeners present on connect.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

// Roles carried in the role claim. An empty role may listen and author its
// own school's schedules but not manage the school itself.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// Claims identify who is listening and for which school.
type Claims struct {
	SchoolID string `json:"school_id"`
	UserID   string `json:"user_id"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token's role is one of roles.
func (c *Claims) HasRole(roles ...string) bool {
	if c == nil || c.Role == "" {
		return false
	}
	for _, r := range roles {
		if strings.EqualFold(c.Role, r) {
			return true
		}
	}
	return false
}

type claimsKey struct{}

func NewContext(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a signer; ttl <= 0 means 12h.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *Signer) Issue(schoolID, userID, role string) (string, error) {
	now := s.now()
	c := Claims{
		SchoolID: schoolID,
		UserID:   userID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// Verify parses tok and returns its claims. Any failure, including a missing
// school_id, is ErrInvalidToken.
func (s *Signer) Verify(tok string) (*Claims, error) {
	var c Claims
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	_, err := parser.ParseWithClaims(tok, &c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(c.SchoolID) == "" {
		return nil, fmt.Errorf("%w: school_id missing", ErrInvalidToken)
	}
	return &c, nil
}

// TokenFromRequest reads "Authorization: Bearer <t>" or, for browsers that
// cannot set headers on a websocket upgrade, the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		fields := strings.Fields(h)
		if len(fields) == 2 && strings.EqualFold(fields[0], "Bearer") {
			return fields[1]
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
