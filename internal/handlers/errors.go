package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/ieraasyl/PsoriScan/internal/backend"
	"github.com/ieraasyl/PsoriScan/internal/identity"
	"github.com/ieraasyl/PsoriScan/internal/services"
	"github.com/ieraasyl/PsoriScan/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Remediation hints the UI can act on.
const (
	remediationVerify = "verify"
	remediationSignIn = "sign_in"
	remediationRetry  = "retry"
)

// respondWithServiceError maps service, identity and backend errors to a
// JSON error response.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *backend.APIError

	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrInvalidTokenBundle),
		errors.Is(err, identity.ErrInvalidPassword),
		errors.Is(err, identity.ErrInvalidCode),
		errors.Is(err, backend.ErrImageTooLarge):
		utils.RespondWithError(w, r, http.StatusBadRequest, err.Error())

	case errors.Is(err, identity.ErrUnconfirmedAccount):
		utils.RespondWithErrorRemediation(w, r, http.StatusForbidden,
			"Account is not confirmed", remediationVerify)

	case errors.Is(err, services.ErrNotAuthenticated):
		utils.RespondWithErrorRemediation(w, r, http.StatusUnauthorized,
			"Not signed in", remediationSignIn)

	case errors.Is(err, identity.ErrInvalidCredentials):
		utils.RespondWithError(w, r, http.StatusUnauthorized, "Incorrect username or password")

	case errors.Is(err, identity.ErrUserNotFound):
		utils.RespondWithError(w, r, http.StatusNotFound, "User does not exist")

	case errors.Is(err, identity.ErrUsernameExists):
		utils.RespondWithError(w, r, http.StatusConflict, "An account with this email already exists")

	case errors.Is(err, identity.ErrUnknownAuth):
		utils.RespondWithErrorRemediation(w, r, http.StatusBadGateway,
			"Authentication failed, please try again", remediationRetry)

	case errors.Is(err, backend.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		utils.RespondWithErrorRemediation(w, r, http.StatusGatewayTimeout,
			"The analysis service took too long to respond", remediationRetry)

	case errors.Is(err, backend.ErrUnreachable):
		utils.RespondWithErrorRemediation(w, r, http.StatusBadGateway,
			"The analysis service is unreachable", remediationRetry)

	case errors.As(err, &apiErr):
		status := apiErr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		utils.RespondWithError(w, r, status, apiErr.Message)

	default:
		log.Error().Err(err).Str("request_id", utils.GetRequestID(r.Context())).Msg("Unhandled service error")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Something went wrong")
	}
}
