package services

import (
	"errors"

	"github.com/ieraasyl/PsoriScan/internal/identity"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// authAttemptsTotal counts sign-in attempts by result.
	//
	// Labels: result (success, invalid_credentials, unconfirmed, user_not_found, error)
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// tokenRefreshTotal counts transparent token refreshes by result.
	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refresh_total",
			Help: "Total number of token refresh attempts",
		},
		[]string{"result"},
	)

	// activeSessions is 1 while a user is signed in.
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_active_sessions",
			Help: "Number of active user sessions",
		},
	)

	// submissionsTotal counts assessment submissions by result.
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_submissions_total",
			Help: "Total number of assessment submissions",
		},
		[]string{"result"},
	)

	// bridgeEntries tracks results held by the result bridge.
	bridgeEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "result_bridge_entries",
			Help: "Number of results waiting in the result bridge",
		},
	)
)

func init() {
	prometheus.MustRegister(authAttemptsTotal)
	prometheus.MustRegister(tokenRefreshTotal)
	prometheus.MustRegister(activeSessions)
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(bridgeEntries)
}

// resultLabel maps an error onto a low-cardinality metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, identity.ErrUnconfirmedAccount):
		return "unconfirmed"
	case errors.Is(err, identity.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "error"
	}
}
