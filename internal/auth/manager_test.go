package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeJWT mints an unsigned token with the claims the backend issues.
func makeJWT(t *testing.T, sub, email, fullName string, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims := map[string]any{
		"sub":   sub,
		"email": email,
	}
	if fullName != "" {
		claims["user_metadata"] = map[string]string{"full_name": fullName}
	}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

func newTestManager(t *testing.T, backendURL string) *Manager {
	t.Helper()
	return NewManager(backendURL, NewFileCredentialStore(t.TempDir()))
}

func TestDecodeAccessToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := makeJWT(t, "user-1", "ada@example.com", "Ada Lovelace", exp)

	user, expiry, err := decodeAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.FullName)
	assert.True(t, expiry.Equal(exp))
}

func TestDecodeAccessTokenMalformed(t *testing.T) {
	_, _, err := decodeAccessToken("not-a-jwt")
	assert.Error(t, err)
}

func TestFileCredentialStoreRoundTrip(t *testing.T) {
	store := NewFileCredentialStore(t.TempDir())

	require.NoError(t, store.Set(ServiceName, AccountAuthToken, "secret-1"))
	got, err := store.Get(ServiceName, AccountAuthToken)
	require.NoError(t, err)
	assert.Equal(t, "secret-1", got)

	_, err = store.Get(ServiceName, "missing")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	require.NoError(t, store.Delete(ServiceName, AccountAuthToken))
	_, err = store.Get(ServiceName, AccountAuthToken)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestHandleCallbackSignsIn(t *testing.T) {
	m := newTestManager(t, "http://backend.invalid")
	token := makeJWT(t, "user-2", "jwt@example.com", "", time.Now().Add(time.Hour))

	userJSON := url.QueryEscape(`{"id":"user-2","email":"override@example.com","full_name":"Override Name"}`)
	callback := fmt.Sprintf("trace://auth?token=%s&refresh_token=rt-1&user=%s", token, userJSON)

	require.NoError(t, m.HandleCallback(callback))
	assert.Equal(t, SignedIn, m.State())
	assert.Equal(t, token, m.AccessToken())
	assert.Equal(t, "rt-1", m.RefreshToken())

	// The user param overrides JWT-derived fields.
	user := m.CurrentUser()
	assert.Equal(t, "override@example.com", user.Email)
	assert.Equal(t, "Override Name", user.FullName)

	// Tokens persisted under the service accounts.
	stored, err := m.creds.Get(ServiceName, AccountAuthToken)
	require.NoError(t, err)
	assert.Equal(t, token, stored)
}

func TestHandleCallbackMissingToken(t *testing.T) {
	m := newTestManager(t, "http://backend.invalid")
	err := m.HandleCallback("trace://auth?refresh_token=rt")
	assert.Error(t, err)
	assert.Equal(t, SignedOut, m.State())
}

func TestTryRestoreSessionValidToken(t *testing.T) {
	m := newTestManager(t, "http://backend.invalid")
	token := makeJWT(t, "user-3", "keep@example.com", "", time.Now().Add(time.Hour))
	require.NoError(t, m.creds.Set(ServiceName, AccountAuthToken, token))

	require.True(t, m.TryRestoreSession())
	assert.Equal(t, SignedIn, m.State())
	assert.Equal(t, "keep@example.com", m.CurrentUser().Email)
}

func TestTryRestoreSessionExpiredTokenRefreshes(t *testing.T) {
	fresh := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/refresh", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rt-old", body["refresh_token"])
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":"rt-new","expires_in":3600}`, fresh)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	fresh = makeJWT(t, "user-4", "back@example.com", "", time.Now().Add(time.Hour))
	expired := makeJWT(t, "user-4", "back@example.com", "", time.Now().Add(-time.Hour))
	require.NoError(t, m.creds.Set(ServiceName, AccountAuthToken, expired))
	require.NoError(t, m.creds.Set(ServiceName, AccountRefreshToken, "rt-old"))

	require.True(t, m.TryRestoreSession())
	assert.Equal(t, SignedIn, m.State())
	assert.Equal(t, fresh, m.AccessToken())
	assert.Equal(t, "rt-new", m.RefreshToken())
}

func TestTryRestoreSessionRefreshFailureClearsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	expired := makeJWT(t, "user-5", "gone@example.com", "", time.Now().Add(-time.Hour))
	require.NoError(t, m.creds.Set(ServiceName, AccountAuthToken, expired))
	require.NoError(t, m.creds.Set(ServiceName, AccountRefreshToken, "rt-dead"))

	assert.False(t, m.TryRestoreSession())
	assert.Equal(t, SignedOut, m.State())
	assert.Empty(t, m.AccessToken())

	_, err := m.creds.Get(ServiceName, AccountAuthToken)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestRefreshCooldownSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	m.session.refreshToken = "rt"

	assert.Error(t, m.Refresh())
	assert.Equal(t, int32(1), hits.Load())

	// Within the cooldown the second attempt fails without a request.
	assert.Error(t, m.Refresh())
	assert.Equal(t, int32(1), hits.Load())

	// An aged failure no longer blocks.
	m.mu.Lock()
	m.lastRefreshFailure = time.Now().Add(-2 * refreshCooldown)
	m.mu.Unlock()
	assert.Error(t, m.Refresh())
	assert.Equal(t, int32(2), hits.Load())
}

func TestIsTokenExpiringSoon(t *testing.T) {
	m := newTestManager(t, "http://backend.invalid")
	assert.False(t, m.IsTokenExpiringSoon())

	soon := makeJWT(t, "u", "e@example.com", "", time.Now().Add(time.Hour))
	require.NoError(t, m.SetTokens(soon, "rt", 60))
	assert.True(t, m.IsTokenExpiringSoon())

	require.NoError(t, m.SetTokens(soon, "rt", 3600))
	assert.False(t, m.IsTokenExpiringSoon())
}

func TestStartLoginCallbackFlow(t *testing.T) {
	m := newTestManager(t, "http://backend.invalid")

	var loginURL string
	m.OpenBrowser = func(u string) error {
		loginURL = u
		return nil
	}

	require.NoError(t, m.StartLogin("https://buildwithtrace.com/login"))
	assert.Equal(t, SigningIn, m.State())

	port := m.CallbackPort()
	require.GreaterOrEqual(t, port, callbackPortFirst)
	require.LessOrEqual(t, port, callbackPortLast)
	assert.Contains(t, loginURL, url.QueryEscape(fmt.Sprintf("http://localhost:%d", port)))

	token := makeJWT(t, "user-6", "flow@example.com", "", time.Now().Add(time.Hour))
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/?token=%s&refresh_token=rt-flow", port, token))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, SignedIn, m.State())
	assert.Equal(t, "flow@example.com", m.CurrentUser().Email)
	assert.Equal(t, "rt-flow", m.RefreshToken())
	assert.Equal(t, 0, m.CallbackPort())
}

func TestSignOutClearsEverything(t *testing.T) {
	m := newTestManager(t, "http://backend.invalid")
	token := makeJWT(t, "user-7", "out@example.com", "", time.Now().Add(time.Hour))
	require.NoError(t, m.SetTokens(token, "rt", 3600))
	require.Equal(t, SignedIn, m.State())

	m.SignOut()
	assert.Equal(t, SignedOut, m.State())
	assert.Empty(t, m.AccessToken())
	assert.Empty(t, m.RefreshToken())
	assert.Empty(t, m.CurrentUser().Email)

	_, err := m.creds.Get(ServiceName, AccountAuthToken)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}
