package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"suarawarga/backend/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_IssueAndParse(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	token, err := tokens.Issue(Actor{ID: "officer-1", Role: models.RoleReviewer})
	require.NoError(t, err)

	actor, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "officer-1", actor.ID)
	assert.True(t, actor.HasReviewerAuthority())
}

func TestTokens_Anonymous(t *testing.T) {
	tokens := NewTokens("secret", 0)

	actor, token, err := tokens.IssueAnonymous()
	require.NoError(t, err)
	assert.Len(t, actor.ID, 36)
	assert.False(t, actor.HasReviewerAuthority())

	parsed, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, actor, parsed)
}

func TestTokens_Rejects(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	good, err := tokens.Issue(Actor{ID: "a", Role: models.RoleCitizen})
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewTokens("other", time.Hour).Parse(good)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		late := NewTokens("secret", time.Hour)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := late.Parse(good)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = tokens.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestActor_HasReviewerAuthority(t *testing.T) {
	assert.True(t, Actor{Role: models.RoleReviewer}.HasReviewerAuthority())
	assert.True(t, Actor{Role: models.RoleAdmin}.HasReviewerAuthority())
	assert.False(t, Actor{Role: models.RoleCitizen}.HasReviewerAuthority())
	assert.False(t, Actor{}.HasReviewerAuthority())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := NewTokens("secret", time.Hour)
	reviewer, _ := tokens.Issue(Actor{ID: "r", Role: models.RoleReviewer})
	citizen, _ := tokens.Issue(Actor{ID: "c", Role: models.RoleCitizen})

	r := gin.New()
	r.GET("/me", tokens.Authenticate(), func(c *gin.Context) {
		a, _ := ActorFrom(c)
		c.JSON(http.StatusOK, a)
	})
	r.GET("/review", tokens.Authenticate(), RequireReviewer(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/me", "", http.StatusUnauthorized},
		{"bad token", "/me", "Bearer nope", http.StatusUnauthorized},
		{"citizen", "/me", "Bearer " + citizen, http.StatusOK},
		{"query token", "/me?token=" + citizen, "", http.StatusOK},
		{"citizen on reviewer route", "/review", "Bearer " + citizen, http.StatusForbidden},
		{"reviewer", "/review", "Bearer " + reviewer, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
