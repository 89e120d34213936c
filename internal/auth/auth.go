// Package auth issues and checks the HS256 tokens carried by citizens and
// reviewers. The workflow only ever sees the resulting Actor.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"suarawarga/backend/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer          = "suarawarga-service"
	DefaultTokenTTL = 72 * time.Hour

	actorKey = "actor"
)

var (
	ErrMissingToken = errors.New("authorization token missing")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Actor is the identity a request acts as.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// HasReviewerAuthority reports whether the actor may drive the workflow.
func (a Actor) HasReviewerAuthority() bool {
	return a.Role == models.RoleReviewer || a.Role == models.RoleAdmin
}

// System is the actor used for automatic transitions.
func System(id string) Actor { return Actor{ID: id, Role: models.RoleAdmin} }

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies tokens with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the actor.
func (t *Tokens) Issue(a Actor) (string, error) {
	now := t.now()
	claims := Claims{
		Role: a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// IssueAnonymous creates a fresh citizen identity and its token.
func (t *Tokens) IssueAnonymous() (Actor, string, error) {
	a := Actor{ID: uuid.NewString(), Role: models.RoleCitizen}
	token, err := t.Issue(a)
	return a, token, err
}

// Parse verifies the signature, issuer and expiry and returns the actor.
func (t *Tokens) Parse(token string) (Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Actor{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	role := claims.Role
	if role == "" {
		role = models.RoleCitizen
	}
	return Actor{ID: claims.Subject, Role: role}, nil
}

func bearer(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer "), nil
	}
	// browsers cannot set headers on a websocket upgrade
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// Authenticate rejects requests without a valid token and stores the actor
// in the gin context.
func (t *Tokens) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearer(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		actor, err := t.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireReviewer must run after Authenticate.
func RequireReviewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok || !actor.HasReviewerAuthority() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "reviewer authority required"})
			return
		}
		c.Next()
	}
}

// ActorFrom returns the actor stored by Authenticate.
func ActorFrom(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return Actor{}, false
	}
	a, ok := v.(Actor)
	return a, ok
}
