// Package testutil provides fixtures and helpers shared by the PsoriScan
// test suites.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/PsoriScan/internal/identity"
	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/pkg/config"
)

// TestSecret signs locally issued test tokens.
var TestSecret = []byte("test-secret-key-min-32-bytes-long!!")

// TestIdentityConfig returns identity settings for an in-process provider.
func TestIdentityConfig() *config.IdentityConfig {
	return &config.IdentityConfig{
		Mode:        config.IdentityLocal,
		ClientID:    "psoriscan-test",
		LocalSecret: TestSecret,
		TokenExpiry: 15 * time.Minute,
		RefreshSkew: time.Minute,
	}
}

// LocalProvider is an in-process identity provider that records the
// confirmation codes it sends.
type LocalProvider struct {
	*identity.LocalProvider
	Codes map[string]string
}

// NewLocalProvider creates a LocalProvider with captured codes.
func NewLocalProvider(t *testing.T, opts ...identity.LocalOption) *LocalProvider {
	t.Helper()

	p := &LocalProvider{Codes: make(map[string]string)}
	opts = append([]identity.LocalOption{identity.WithCodeSender(func(username, code string) {
		p.Codes[username] = code
	})}, opts...)
	p.LocalProvider = identity.NewLocalProvider(TestSecret, "psoriscan-test", 15*time.Minute, opts...)
	return p
}

// RegisterConfirmed signs up and confirms an account.
func (p *LocalProvider) RegisterConfirmed(t *testing.T, username, password, displayName string) {
	t.Helper()

	ctx := context.Background()
	if _, err := p.SignUp(ctx, username, password, displayName); err != nil {
		t.Fatalf("Failed to sign up %s: %v", username, err)
	}
	if err := p.ConfirmSignUp(ctx, username, p.Codes[username]); err != nil {
		t.Fatalf("Failed to confirm %s: %v", username, err)
	}
}

// SignIdentityToken returns an HS256 identity token for sub expiring at exp.
// A zero exp leaves the claim out.
func SignIdentityToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()

	claims := identity.Claims{
		Email:    email,
		TokenUse: "id",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      uuid.NewString(),
			Subject: sub,
		},
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(TestSecret)
	if err != nil {
		t.Fatalf("Failed to sign identity token: %v", err)
	}
	return token
}

// TestTokenBundle returns a valid external token bundle for sub.
func TestTokenBundle(t *testing.T, sub, email string) models.TokenBundle {
	t.Helper()

	return models.TokenBundle{
		IDToken:      SignIdentityToken(t, sub, email, time.Now().Add(time.Hour)),
		AccessToken:  "access-" + sub,
		RefreshToken: "refresh-" + sub,
	}
}

// TestCompleteAnswers returns section patches that satisfy every required
// field.
func TestCompleteAnswers() map[string]map[string]any {
	return map[string]map[string]any{
		models.SectionDemographics: {
			"age":      "34",
			"gender":   "female",
			"symptoms": []string{"scaling", "itching"},
			"itching":  6,
		},
		models.SectionOnset: {
			"onsetTime": "1-5 years",
			"redness":   4,
		},
		models.SectionImpact: {
			"dailyImpact": "moderate",
		},
	}
}

// TestResultBundle returns a bridged analysis result.
func TestResultBundle() models.ResultBundle {
	return models.ResultBundle{
		Analysis: models.Analysis{
			AssessmentID:  "assessment-1",
			Diagnosis:     "plaque psoriasis",
			SeverityScore: 7.5,
			SeverityLevel: "moderate",
		},
		Recommendations: models.Recommendations{
			Summary:   "Moderate plaque psoriasis",
			NextSteps: []string{"See a dermatologist"},
		},
		CreatedAt: time.Now(),
	}
}

// UserAgents provides common user agent strings for testing
var UserAgents = struct {
	Chrome       string
	Safari       string
	MobileChrome string
	MobileSafari string
	Unknown      string
}{
	Chrome:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	Safari:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	MobileChrome: "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
	MobileSafari: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	Unknown:      "",
}
