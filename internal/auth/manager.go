package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// State is the sign-in state machine.
type State int

const (
	SignedOut State = iota
	SigningIn
	SignedIn
	StateError
)

func (s State) String() string {
	switch s {
	case SignedOut:
		return "signed_out"
	case SigningIn:
		return "signing_in"
	case SignedIn:
		return "signed_in"
	case StateError:
		return "error"
	}
	return "unknown"
}

const (
	// expirySlack is how close to expiry a token counts as expiring soon.
	expirySlack = 5 * time.Minute

	// refreshCooldown blocks refresh retries after a failure.
	refreshCooldown = 60 * time.Second

	refreshTimeout = 10 * time.Second
	logoutTimeout  = 5 * time.Second
)

// session is the in-memory token set.
type session struct {
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	user         User
}

// Manager drives login, restore, refresh and sign-out.
type Manager struct {
	mu      sync.Mutex
	state   State
	session session

	backendURL string
	creds      CredentialStore
	httpClient *http.Client

	lastRefreshFailure time.Time

	server *callbackServer

	// OpenBrowser launches the system browser at a URL. Tests replace it.
	OpenBrowser func(url string) error

	// StateCallback, when set, observes every state transition.
	StateCallback func(State)
}

// NewManager builds a manager against the given backend.
func NewManager(backendURL string, creds CredentialStore) *Manager {
	return &Manager{
		state:      SignedOut,
		backendURL: strings.TrimRight(backendURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: refreshTimeout},
	}
}

// State returns the current sign-in state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentUser returns the signed-in user, zero when signed out.
func (m *Manager) CurrentUser() User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.user
}

// AccessToken returns the current access token, "" when signed out.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.accessToken
}

// RefreshToken returns the current refresh token.
func (m *Manager) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.refreshToken
}

// IsTokenExpiringSoon reports whether the access token expires within
// five minutes (or already has).
func (m *Manager) IsTokenExpiringSoon() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.expiresAt.IsZero() {
		return false
	}
	return time.Until(m.session.expiresAt) <= expirySlack
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	cb := m.StateCallback
	m.mu.Unlock()
	logging.Auth("state -> %s", s)
	if cb != nil {
		cb(s)
	}
}

// StartLogin opens the login page with a callback the browser can
// return to. A localhost listener is used when OS scheme dispatch is
// unavailable, which is the case for this build.
func (m *Manager) StartLogin(loginURL string) error {
	m.setState(SigningIn)

	server, err := startCallbackServer(m.acceptCallback)
	if err != nil {
		m.setState(StateError)
		return fmt.Errorf("starting callback listener: %w", err)
	}
	m.mu.Lock()
	if m.server != nil {
		m.server.Close()
	}
	m.server = server
	m.mu.Unlock()

	full := fmt.Sprintf("%s?callback=%s", loginURL, url.QueryEscape(server.URL()))
	opener := m.OpenBrowser
	if opener == nil {
		m.setState(StateError)
		return fmt.Errorf("no browser opener configured")
	}
	if err := opener(full); err != nil {
		m.setState(StateError)
		return fmt.Errorf("launching browser: %w", err)
	}
	logging.Auth("login started, awaiting callback on %s", server.URL())
	return nil
}

// HandleCallback processes an OS-dispatched trace://auth URL carrying
// the same parameters as the localhost callback.
func (m *Manager) HandleCallback(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed callback URL: %w", err)
	}
	query := parsed.Query()
	token := query.Get("token")
	if token == "" {
		return fmt.Errorf("callback is missing token")
	}
	return m.acceptCallback(token, query.Get("refresh_token"), query.Get("user"))
}

// acceptCallback finalises a sign-in from callback parameters.
func (m *Manager) acceptCallback(token, refreshToken, userJSON string) error {
	user, expiry, err := decodeAccessToken(token)
	if err != nil {
		m.setState(StateError)
		return err
	}

	// The user param, when present, overrides JWT-derived fields.
	if userJSON != "" {
		var fromCallback User
		if err := json.Unmarshal([]byte(userJSON), &fromCallback); err == nil {
			if fromCallback.ID != "" {
				user.ID = fromCallback.ID
			}
			if fromCallback.Email != "" {
				user.Email = fromCallback.Email
			}
			if fromCallback.FullName != "" {
				user.FullName = fromCallback.FullName
			}
			if fromCallback.AvatarURL != "" {
				user.AvatarURL = fromCallback.AvatarURL
			}
		}
	}

	m.storeSession(token, refreshToken, expiry, user)
	m.persistTokens(token, refreshToken)
	m.closeCallbackServer()
	m.setState(SignedIn)
	logging.Auth("signed in as %s", user.Email)
	return nil
}

// SetTokens installs a fresh token pair, deriving expiry from
// expiresIn seconds.
func (m *Manager) SetTokens(accessToken, refreshToken string, expiresIn int) error {
	user, expiry, err := decodeAccessToken(accessToken)
	if err != nil {
		return err
	}
	if expiresIn > 0 {
		expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	m.storeSession(accessToken, refreshToken, expiry, user)
	m.persistTokens(accessToken, refreshToken)
	m.setState(SignedIn)
	return nil
}

// TryRestoreSession loads stored tokens on startup. An expired token
// triggers a refresh attempt; failure clears the stored tokens.
func (m *Manager) TryRestoreSession() bool {
	accessToken, err := m.creds.Get(ServiceName, AccountAuthToken)
	if err != nil || accessToken == "" {
		logging.AuthDebug("no stored session")
		return false
	}
	refreshToken, _ := m.creds.Get(ServiceName, AccountRefreshToken)

	user, expiry, err := decodeAccessToken(accessToken)
	if err != nil {
		logging.AuthWarn("stored token unusable: %v", err)
		m.clearStoredTokens()
		return false
	}

	if expiry.IsZero() || time.Now().Before(expiry) {
		m.storeSession(accessToken, refreshToken, expiry, user)
		m.setState(SignedIn)
		logging.Auth("session restored for %s", user.Email)
		return true
	}

	if refreshToken == "" {
		m.clearStoredTokens()
		m.setState(SignedOut)
		return false
	}

	m.mu.Lock()
	m.session.refreshToken = refreshToken
	m.mu.Unlock()

	if err := m.Refresh(); err != nil {
		logging.AuthWarn("session restore refresh failed: %v", err)
		m.clearStoredTokens()
		m.mu.Lock()
		m.session = session{}
		m.mu.Unlock()
		m.setState(SignedOut)
		return false
	}
	logging.Auth("session restored via refresh")
	return true
}

// Refresh exchanges the refresh token for a new token pair. A failure
// within the last minute short-circuits without touching the network.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	if !m.lastRefreshFailure.IsZero() && time.Since(m.lastRefreshFailure) < refreshCooldown {
		m.mu.Unlock()
		return fmt.Errorf("refresh failed recently, retry later")
	}
	refreshToken := m.session.refreshToken
	m.mu.Unlock()

	if refreshToken == "" {
		return fmt.Errorf("no refresh token")
	}

	err := m.doRefresh(refreshToken)
	m.mu.Lock()
	if err != nil {
		m.lastRefreshFailure = time.Now()
	} else {
		m.lastRefreshFailure = time.Time{}
	}
	m.mu.Unlock()
	return err
}

func (m *Manager) doRefresh(refreshToken string) error {
	body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	resp, err := m.httpClient.Post(m.backendURL+"/auth/refresh", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh rejected: HTTP %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return fmt.Errorf("decoding refresh response: %w", err)
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		return fmt.Errorf("refresh response missing tokens")
	}
	if payload.ExpiresIn == 0 {
		payload.ExpiresIn = 3600
	}
	return m.SetTokens(payload.AccessToken, payload.RefreshToken, payload.ExpiresIn)
}

// SignOut revokes the session server-side on a best-effort basis and
// clears all local state.
func (m *Manager) SignOut() {
	m.mu.Lock()
	accessToken := m.session.accessToken
	m.session = session{}
	m.lastRefreshFailure = time.Time{}
	m.mu.Unlock()

	if accessToken != "" {
		go func() {
			body, _ := json.Marshal(map[string]string{"access_token": accessToken})
			client := &http.Client{Timeout: logoutTimeout}
			resp, err := client.Post(m.backendURL+"/auth/logout", "application/json", bytes.NewReader(body))
			if err != nil {
				logging.AuthDebug("logout notification failed: %v", err)
				return
			}
			resp.Body.Close()
		}()
	}

	m.clearStoredTokens()
	m.closeCallbackServer()
	m.setState(SignedOut)
	logging.Auth("signed out")
}

func (m *Manager) storeSession(accessToken, refreshToken string, expiry time.Time, user User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session{
		accessToken:  accessToken,
		refreshToken: refreshToken,
		expiresAt:    expiry,
		user:         user,
	}
}

func (m *Manager) persistTokens(accessToken, refreshToken string) {
	if m.creds == nil {
		return
	}
	if err := m.creds.Set(ServiceName, AccountAuthToken, accessToken); err != nil {
		logging.AuthWarn("could not persist access token: %v", err)
	}
	if refreshToken != "" {
		if err := m.creds.Set(ServiceName, AccountRefreshToken, refreshToken); err != nil {
			logging.AuthWarn("could not persist refresh token: %v", err)
		}
	}
}

func (m *Manager) clearStoredTokens() {
	if m.creds == nil {
		return
	}
	_ = m.creds.Delete(ServiceName, AccountAuthToken)
	_ = m.creds.Delete(ServiceName, AccountRefreshToken)
}

func (m *Manager) closeCallbackServer() {
	m.mu.Lock()
	server := m.server
	m.server = nil
	m.mu.Unlock()
	if server != nil {
		server.Close()
	}
}

// CallbackPort returns the active callback listener port, 0 when none.
func (m *Manager) CallbackPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return 0
	}
	return m.server.port
}
