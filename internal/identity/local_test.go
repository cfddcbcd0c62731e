package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-min-32-bytes-long!!")

// setupLocalProvider returns a provider whose issued codes are captured in
// the returned map.
func setupLocalProvider(t *testing.T, opts ...LocalOption) (*LocalProvider, map[string]string) {
	t.Helper()

	codes := make(map[string]string)
	opts = append([]LocalOption{WithCodeSender(func(username, code string) {
		codes[username] = code
	})}, opts...)

	return NewLocalProvider(testSecret, "psoriscan-test", 15*time.Minute, opts...), codes
}

func TestLocalSignUp(t *testing.T) {
	p, codes := setupLocalProvider(t)
	ctx := context.Background()

	t.Run("creates unconfirmed account and sends code", func(t *testing.T) {
		res, err := p.SignUp(ctx, "a@b.com", "Abcdef1!", "Alice")
		require.NoError(t, err)

		assert.False(t, res.Confirmed)
		assert.NotEmpty(t, res.UserSub)
		assert.Equal(t, "a***@b.com", res.Destination)
		assert.Len(t, codes["a@b.com"], 6)
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := p.SignUp(ctx, "A@B.com", "Abcdef1!", "Alice")
		assert.ErrorIs(t, err, ErrUsernameExists)
	})

	t.Run("password policy", func(t *testing.T) {
		for _, pw := range []string{"short1!", "abcdefg1!", "ABCDEFG1!", "Abcdefgh!", "Abcdefg12"} {
			_, err := p.SignUp(ctx, "weak@b.com", pw, "")
			assert.ErrorIs(t, err, ErrInvalidPassword, pw)
		}
	})

	t.Run("username must be an email", func(t *testing.T) {
		_, err := p.SignUp(ctx, "not-an-email", "Abcdef1!", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestLocalConfirmAndSignIn(t *testing.T) {
	p, codes := setupLocalProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "a@b.com", "Abcdef1!", "Alice")
	require.NoError(t, err)

	t.Run("unconfirmed account cannot sign in", func(t *testing.T) {
		_, err := p.SignIn(ctx, "a@b.com", "Abcdef1!")
		assert.ErrorIs(t, err, ErrUnconfirmedAccount)
	})

	t.Run("wrong code", func(t *testing.T) {
		wrong := "000000"
		if codes["a@b.com"] == wrong {
			wrong = "111111"
		}
		assert.ErrorIs(t, p.ConfirmSignUp(ctx, "a@b.com", wrong), ErrInvalidCode)
	})

	t.Run("unknown user", func(t *testing.T) {
		assert.ErrorIs(t, p.ConfirmSignUp(ctx, "nobody@b.com", "123456"), ErrUserNotFound)
		_, err := p.SignIn(ctx, "nobody@b.com", "Abcdef1!")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("confirm then sign in", func(t *testing.T) {
		require.NoError(t, p.ConfirmSignUp(ctx, "a@b.com", codes["a@b.com"]))

		tokens, err := p.SignIn(ctx, "a@b.com", "Abcdef1!")
		require.NoError(t, err)
		assert.NotEmpty(t, tokens.AccessToken)
		assert.NotEmpty(t, tokens.RefreshToken)

		claims, err := ParseClaims(tokens.IDToken)
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", claims.Email)
		assert.Equal(t, "Alice", claims.Name)
		assert.Equal(t, "id", claims.TokenUse)
		assert.NotEmpty(t, claims.Subject)
		assert.WithinDuration(t, tokens.ExpiresAt, claims.Expiry(), time.Second)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := p.SignIn(ctx, "a@b.com", "Wrong123!")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("confirming twice succeeds", func(t *testing.T) {
		assert.NoError(t, p.ConfirmSignUp(ctx, "a@b.com", "whatever"))
	})
}

func TestLocalCodeExpiry(t *testing.T) {
	now := time.Now()
	p, codes := setupLocalProvider(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := p.SignUp(ctx, "a@b.com", "Abcdef1!", "")
	require.NoError(t, err)
	first := codes["a@b.com"]

	now = now.Add(25 * time.Hour)
	assert.ErrorIs(t, p.ConfirmSignUp(ctx, "a@b.com", first), ErrInvalidCode)

	require.NoError(t, p.ResendConfirmationCode(ctx, "a@b.com"))
	assert.NoError(t, p.ConfirmSignUp(ctx, "a@b.com", codes["a@b.com"]))
}

func TestLocalRefreshAndSignOut(t *testing.T) {
	p, codes := setupLocalProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "a@b.com", "Abcdef1!", "")
	require.NoError(t, err)
	require.NoError(t, p.ConfirmSignUp(ctx, "a@b.com", codes["a@b.com"]))

	tokens, err := p.SignIn(ctx, "a@b.com", "Abcdef1!")
	require.NoError(t, err)

	t.Run("refresh rotates the refresh token", func(t *testing.T) {
		next, err := p.Refresh(ctx, tokens.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, tokens.RefreshToken, next.RefreshToken)

		_, err = p.Refresh(ctx, tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		tokens = next
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		_, err := p.Refresh(ctx, tokens.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("global sign out revokes refresh tokens", func(t *testing.T) {
		require.NoError(t, p.GlobalSignOut(ctx, tokens.AccessToken))

		_, err := p.Refresh(ctx, tokens.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("garbage token", func(t *testing.T) {
		assert.ErrorIs(t, p.GlobalSignOut(ctx, "not.a.token"), ErrInvalidCredentials)
	})
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify("UserNotConfirmedException"), ErrUnconfirmedAccount)
	assert.ErrorIs(t, classify("invalid_grant"), ErrInvalidCredentials)
	assert.ErrorIs(t, classify("code_mismatch"), ErrInvalidCode)
	assert.ErrorIs(t, classify("username_exists"), ErrUsernameExists)
	assert.ErrorIs(t, classify(""), ErrUnknownAuth)
}

func TestParseClaims(t *testing.T) {
	_, err := ParseClaims("garbage")
	assert.Error(t, err)
}
