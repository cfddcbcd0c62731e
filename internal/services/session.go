// Package services implements the client core: the session manager over the
// identity provider, the assessment state store, the transient result bridge
// and the submission flow that ties them to the analysis backend.
//
// Every service is constructed explicitly and owns its lifecycle. Services
// that persist state write to durable storage in the background and expose
// Flush to wait for those writes and Close to drain them on shutdown.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ieraasyl/PsoriScan/internal/database"
	"github.com/ieraasyl/PsoriScan/internal/identity"
	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/pkg/cache"
	"github.com/ieraasyl/PsoriScan/pkg/config"
	"github.com/rs/zerolog/log"
)

// Credential field names under auth:<clientID>:<username>:.
const (
	fieldIDToken      = "idToken"
	fieldAccessToken  = "accessToken"
	fieldRefreshToken = "refreshToken"
	fieldUserID       = "userId"
	fieldDisplayName  = "displayName"
	fieldDevice       = "device"
	fieldExpiresAt    = "expiresAt"
)

var credentialFields = []string{
	fieldIDToken, fieldAccessToken, fieldRefreshToken, fieldUserID, fieldDisplayName, fieldDevice, fieldExpiresAt,
}

// SessionListener is told the active user id whenever it changes. An empty
// id means signed out.
type SessionListener func(ctx context.Context, userID string)

// SessionManager is the single source of truth for whether a user is
// authenticated and what their credentials are.
//
// Boot is two-phase: NewSessionManager constructs, Start loads durable
// storage into memory and then marks the manager ready. Session reads before
// that report ErrNotAuthenticated.
type SessionManager struct {
	provider identity.Provider
	store    *credentialStore
	clientID string
	skew     time.Duration
	now      func() time.Time

	ready     chan struct{}
	readyOnce sync.Once

	mu  sync.Mutex // serializes session installs, refreshes and sign-out
	gen uint64     // bumped under mu on every active-user change

	listenersMu sync.RWMutex
	listeners   []SessionListener

	notifyMu   sync.Mutex // held while listeners run
	lastGen    uint64
	lastUserID string
}

// sessionChange is an active-user change captured under mu.
type sessionChange struct {
	gen    uint64
	userID string
}

// NewSessionManager creates a session manager mirroring credentials to kv.
//
// Example:
//
//	sessions := services.NewSessionManager(idp, kv, &cfg.Identity)
//	if err := sessions.Start(ctx); err != nil {
//	    log.Warn().Err(err).Msg("Starting without stored credentials")
//	}
//	defer sessions.Close()
func NewSessionManager(provider identity.Provider, kv database.KV, cfg *config.IdentityConfig) *SessionManager {
	return &SessionManager{
		provider: provider,
		store:    newCredentialStore(kv, cache.CredentialPrefix(cfg.ClientID)),
		clientID: cfg.ClientID,
		skew:     cfg.RefreshSkew,
		now:      time.Now,
		ready:    make(chan struct{}),
	}
}

// Start bulk-loads stored credentials and marks the manager ready. A storage
// failure is returned after readiness so the process boots signed out.
// A partially stored session is purged.
func (m *SessionManager) Start(ctx context.Context) error {
	loadErr := m.store.load(ctx)
	if loadErr != nil {
		log.Warn().Err(loadErr).Msg("Failed to load stored credentials")
	}

	m.mu.Lock()
	session := m.loadSession()
	userID := ""
	if session == nil {
		if _, ok := m.store.get(cache.LastAuthUserKey(m.clientID)); ok {
			log.Warn().Msg("Purging incomplete stored session")
			m.store.clear()
		}
	} else {
		userID = session.UserID
	}
	change := m.changeLocked(userID)
	m.mu.Unlock()

	m.readyOnce.Do(func() { close(m.ready) })

	if session != nil {
		activeSessions.Set(1)
		log.Info().Str("user_id", userID).Msg("Restored stored session")
	}
	m.notify(ctx, change)

	if loadErr != nil {
		return fmt.Errorf("failed to load credentials: %w", loadErr)
	}
	return nil
}

// Ready is closed once Start has finished loading.
func (m *SessionManager) Ready() <-chan struct{} {
	return m.ready
}

func (m *SessionManager) isReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// awaitReady blocks mutating operations until Start completes so a late
// bulk load cannot clobber them.
func (m *SessionManager) awaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSessionChange registers a listener for active-user changes.
func (m *SessionManager) OnSessionChange(fn SessionListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// changeLocked records an active-user change. Must be called with m.mu held.
func (m *SessionManager) changeLocked(userID string) sessionChange {
	m.gen++
	return sessionChange{gen: m.gen, userID: userID}
}

// notify delivers change to the listeners unless a later change has already
// been delivered, so listeners always end on the latest active user.
func (m *SessionManager) notify(ctx context.Context, change sessionChange) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if change.gen <= m.lastGen {
		return
	}
	m.lastGen = change.gen
	if change.userID == m.lastUserID {
		return
	}
	m.lastUserID = change.userID

	m.listenersMu.RLock()
	listeners := append([]SessionListener(nil), m.listeners...)
	m.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, change.userID)
	}
}

// SignIn authenticates with the identity provider and installs the session.
// device is the friendly label from ExtractDeviceInfo and may be empty.
func (m *SessionManager) SignIn(ctx context.Context, username, password, device string) (*models.Session, error) {
	if err := m.awaitReady(ctx); err != nil {
		return nil, err
	}

	tokens, err := m.provider.SignIn(ctx, username, password)
	authAttemptsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		log.Info().Err(err).Str("username", username).Msg("Sign-in failed")
		return nil, err
	}

	session, err := sessionFromTokens(username, tokens, device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrUnknownAuth, err)
	}

	m.mu.Lock()
	m.install(session)
	change := m.changeLocked(session.UserID)
	m.mu.Unlock()
	m.notify(ctx, change)

	log.Info().
		Str("user_id", session.UserID).
		Str("device", device).
		Msg("User signed in")

	return session, nil
}

// SignUp registers an unconfirmed account. It does not authenticate.
func (m *SessionManager) SignUp(ctx context.Context, username, password, displayName string) (*identity.SignUpResult, error) {
	res, err := m.provider.SignUp(ctx, username, password, displayName)
	if err != nil {
		log.Info().Err(err).Str("username", username).Msg("Sign-up failed")
		return nil, err
	}

	log.Info().
		Str("user_sub", res.UserSub).
		Str("destination", res.Destination).
		Msg("Account registered, awaiting confirmation")
	return res, nil
}

// ConfirmSignUp confirms an account with its one-time code.
func (m *SessionManager) ConfirmSignUp(ctx context.Context, username, code string) error {
	if err := m.provider.ConfirmSignUp(ctx, username, code); err != nil {
		log.Info().Err(err).Str("username", username).Msg("Confirmation failed")
		return err
	}
	log.Info().Str("username", username).Msg("Account confirmed")
	return nil
}

// ResendConfirmationCode asks the provider to send a fresh code. An unknown
// username is reported as identity.ErrUserNotFound.
func (m *SessionManager) ResendConfirmationCode(ctx context.Context, username string) error {
	if err := m.provider.ResendConfirmationCode(ctx, username); err != nil {
		log.Info().Err(err).Str("username", username).Msg("Resending confirmation code failed")
		return err
	}
	return nil
}

// SignOut clears the session from memory and durable storage, then revokes
// it at the provider on a best-effort basis. Signing out twice is a no-op.
func (m *SessionManager) SignOut(ctx context.Context) error {
	if err := m.awaitReady(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	session := m.loadSession()
	m.clearLocked()
	change := m.changeLocked("")
	m.mu.Unlock()
	m.notify(ctx, change)

	if session == nil {
		return nil
	}

	if err := m.provider.GlobalSignOut(ctx, session.AccessToken); err != nil {
		log.Warn().Err(err).Str("user_id", session.UserID).Msg("Global sign-out failed, local session cleared")
	}

	log.Info().Str("user_id", session.UserID).Msg("User signed out")
	return nil
}

// GetCurrentSession returns the active session, refreshing its tokens when
// the identity token expires within the configured skew. A refresh the
// provider rejects signs the user out. Any other refresh failure keeps the
// session and returns an error wrapping identity.ErrUnknownAuth so the caller
// can retry.
func (m *SessionManager) GetCurrentSession(ctx context.Context) (*models.Session, error) {
	if !m.isReady() {
		return nil, ErrNotAuthenticated
	}

	m.mu.Lock()
	session := m.loadSession()
	if session == nil {
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}

	if m.now().Add(m.skew).Before(session.ExpiresAt) {
		m.mu.Unlock()
		return session, nil
	}

	refreshed, err := m.refreshLocked(ctx, session)
	if err != nil {
		if !refreshRejected(err) {
			m.mu.Unlock()
			log.Warn().Err(err).Str("user_id", session.UserID).Msg("Token refresh failed, session kept for retry")
			if !errors.Is(err, identity.ErrUnknownAuth) {
				err = fmt.Errorf("%w: %v", identity.ErrUnknownAuth, err)
			}
			return nil, fmt.Errorf("token refresh failed: %w", err)
		}

		m.clearLocked()
		change := m.changeLocked("")
		m.mu.Unlock()
		m.notify(ctx, change)

		log.Warn().Err(err).Str("user_id", session.UserID).Msg("Token refresh rejected, session cleared")
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	change := m.changeLocked(refreshed.UserID)
	m.mu.Unlock()
	m.notify(ctx, change)

	return refreshed, nil
}

// refreshRejected reports whether the provider refused the refresh token
// itself, as opposed to failing to answer.
func refreshRejected(err error) bool {
	return errors.Is(err, identity.ErrInvalidCredentials) ||
		errors.Is(err, identity.ErrUserNotFound) ||
		errors.Is(err, identity.ErrUnconfirmedAccount)
}

func (m *SessionManager) refreshLocked(ctx context.Context, session *models.Session) (*models.Session, error) {
	tokens, err := m.provider.Refresh(ctx, session.RefreshToken)
	tokenRefreshTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = session.RefreshToken
	}

	refreshed, err := sessionFromTokens(session.Username, tokens, session.Device)
	if err != nil {
		return nil, err
	}
	if refreshed.DisplayName == "" {
		refreshed.DisplayName = session.DisplayName
	}

	m.install(refreshed)
	log.Debug().Str("user_id", refreshed.UserID).Msg("Tokens refreshed")
	return refreshed, nil
}

// GetAuthorizationHeader returns a bearer header for the identity token, or
// an empty header when signed out. It never fails.
func (m *SessionManager) GetAuthorizationHeader(ctx context.Context) http.Header {
	session, err := m.GetCurrentSession(ctx)
	if err != nil {
		return http.Header{}
	}
	return http.Header{"Authorization": []string{"Bearer " + session.IDToken}}
}

// SaveExternalSession installs tokens obtained through an external redirect
// flow. All three tokens are required and the identity token must carry a
// subject and not be expired.
func (m *SessionManager) SaveExternalSession(ctx context.Context, bundle models.TokenBundle, device string) (*models.Session, error) {
	if err := m.awaitReady(ctx); err != nil {
		return nil, err
	}

	if bundle.IDToken == "" || bundle.AccessToken == "" || bundle.RefreshToken == "" {
		return nil, fmt.Errorf("%w: id, access and refresh tokens are required", ErrInvalidTokenBundle)
	}

	claims, err := identity.ParseClaims(bundle.IDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenBundle, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: identity token has no subject", ErrInvalidTokenBundle)
	}
	if exp := claims.Expiry(); exp.IsZero() || !m.now().Before(exp) {
		return nil, fmt.Errorf("%w: identity token expired", ErrInvalidTokenBundle)
	}

	username := claims.Email
	if username == "" {
		username = claims.Subject
	}

	session := &models.Session{
		Username:     username,
		UserID:       claims.Subject,
		DisplayName:  claims.Name,
		AccessToken:  bundle.AccessToken,
		IDToken:      bundle.IDToken,
		RefreshToken: bundle.RefreshToken,
		Device:       device,
		ExpiresAt:    claims.Expiry(),
	}

	m.mu.Lock()
	m.install(session)
	change := m.changeLocked(session.UserID)
	m.mu.Unlock()
	m.notify(ctx, change)

	log.Info().Str("user_id", session.UserID).Msg("External session installed")
	return session, nil
}

// Flush waits until every credential write is durable.
func (m *SessionManager) Flush(ctx context.Context) error {
	return m.store.flush(ctx)
}

// Close drains pending credential writes.
func (m *SessionManager) Close() {
	m.store.close()
}

// install must be called with m.mu held.
func (m *SessionManager) install(session *models.Session) {
	previous, _ := m.store.get(cache.LastAuthUserKey(m.clientID))
	if previous != "" && previous != session.Username {
		m.store.clear()
	}

	field := func(name string) string {
		return cache.CredentialKey(m.clientID, session.Username, name)
	}
	m.store.set(map[string]string{
		cache.LastAuthUserKey(m.clientID): session.Username,
		field(fieldIDToken):               session.IDToken,
		field(fieldAccessToken):           session.AccessToken,
		field(fieldRefreshToken):          session.RefreshToken,
		field(fieldUserID):                session.UserID,
		field(fieldDisplayName):           session.DisplayName,
		field(fieldDevice):                session.Device,
		field(fieldExpiresAt):             formatExpiry(session.ExpiresAt),
	})
	activeSessions.Set(1)
}

// clearLocked must be called with m.mu held.
func (m *SessionManager) clearLocked() {
	m.store.clear()
	activeSessions.Set(0)
}

// loadSession reads the active session from memory, or returns nil when it
// is absent or incomplete. Must be called with m.mu held.
func (m *SessionManager) loadSession() *models.Session {
	username, ok := m.store.get(cache.LastAuthUserKey(m.clientID))
	if !ok {
		return nil
	}

	values := make(map[string]string, len(credentialFields))
	for _, name := range credentialFields {
		values[name], _ = m.store.get(cache.CredentialKey(m.clientID, username, name))
	}

	session := &models.Session{
		Username:     username,
		UserID:       values[fieldUserID],
		DisplayName:  values[fieldDisplayName],
		AccessToken:  values[fieldAccessToken],
		IDToken:      values[fieldIDToken],
		RefreshToken: values[fieldRefreshToken],
		Device:       values[fieldDevice],
	}
	if !session.Complete() {
		return nil
	}

	claims, err := identity.ParseClaims(session.IDToken)
	if err != nil {
		return nil
	}
	session.ExpiresAt = claims.Expiry()
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = parseExpiry(values[fieldExpiresAt])
	}
	return session
}

// formatExpiry stores t as unix seconds. The zero time stores nothing.
func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func parseExpiry(v string) time.Time {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func sessionFromTokens(username string, tokens *identity.Tokens, device string) (*models.Session, error) {
	claims, err := identity.ParseClaims(tokens.IDToken)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("identity token has no subject")
	}

	expiresAt := claims.Expiry()
	if expiresAt.IsZero() {
		expiresAt = tokens.ExpiresAt
	}
	if claims.Email != "" {
		username = claims.Email
	}

	return &models.Session{
		Username:     username,
		UserID:       claims.Subject,
		DisplayName:  claims.Name,
		AccessToken:  tokens.AccessToken,
		IDToken:      tokens.IDToken,
		RefreshToken: tokens.RefreshToken,
		Device:       device,
		ExpiresAt:    expiresAt,
	}, nil
}
