package auth

import (
	"context"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/nadi-bh/backend-nadi/internal/member"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Members: &member.Store{},
		Secret:  "test-secret-please-rotate",
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Config{Secret: "x"})
	require.Error(t, err)

	_, err = NewService(Config{Members: &member.Store{}, Secret: "  "})
	require.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)
	issued := time.Now().Truncate(time.Second)
	svc.WithNow(func() time.Time { return issued })

	token, expiry, err := svc.signAccessToken("member-1")
	require.NoError(t, err)
	require.Equal(t, issued.Add(defaultAccessTTL), expiry)

	subject, err := svc.ParseAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "member-1", subject)
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	svc := newTestService(t)
	issued := time.Now().Add(-2 * defaultAccessTTL)
	svc.WithNow(func() time.Time { return issued })
	token, _, err := svc.signAccessToken("member-1")
	require.NoError(t, err)

	svc.WithNow(time.Now)
	_, err = svc.ParseAccessToken(token)
	require.Error(t, err)
}

func TestParseAccessTokenRejectsWrongSecret(t *testing.T) {
	svc := newTestService(t)
	token, _, err := svc.signAccessToken("member-1")
	require.NoError(t, err)

	other, err := NewService(Config{Members: &member.Store{}, Secret: "a-different-secret"})
	require.NoError(t, err)
	_, err = other.ParseAccessToken(token)
	require.Error(t, err)
}

func TestParseAccessTokenRejectsWrongAudience(t *testing.T) {
	svc := newTestService(t)

	foreign, err := jwt.NewBuilder().
		Subject("member-1").
		Issuer("backend-nadi").
		Audience([]string{"someone-else"}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(foreign, jwt.WithKey(jwa.HS256, []byte("test-secret-please-rotate")))
	require.NoError(t, err)

	_, err = svc.ParseAccessToken(string(signed))
	require.Error(t, err)
}

func TestParseAccessTokenRejectsGarbage(t *testing.T) {
	svc := newTestService(t)
	for _, tok := range []string{"", "   ", "not-a-token", "a.b.c"} {
		_, err := svc.ParseAccessToken(tok)
		require.Error(t, err, "token %q", tok)
	}
}

func TestRegisterInputValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "", "a@b.example", "36001234", "longenough")
	require.Error(t, err)

	_, err = svc.Register(ctx, "Ahmed Ali", "", "36001234", "longenough")
	require.Error(t, err)

	_, err = svc.Register(ctx, "Ahmed Ali", "a@b.example", "36001234", "short")
	require.Error(t, err)
}
