package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// Localhost callback port range, tried in order.
const (
	callbackPortFirst = 19847
	callbackPortLast  = 19857
)

const callbackResponsePage = `<!DOCTYPE html>
<html><head><title>Trace</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh;">
<h2>Sign-in complete</h2>
<p>You can close this window and return to Trace.</p>
</body></html>`

// callbackServer is the ephemeral localhost HTTP listener used when the
// OS cannot dispatch the trace:// scheme. It accepts a single sign-in
// callback and hands the query parameters to the manager.
type callbackServer struct {
	listener net.Listener
	server   *http.Server
	port     int
}

// startCallbackServer binds the first free port in the callback range
// and serves sign-in callbacks into handle.
func startCallbackServer(handle func(token, refreshToken, userJSON string) error) (*callbackServer, error) {
	var listener net.Listener
	var port int
	var err error
	for p := callbackPortFirst; p <= callbackPortLast; p++ {
		listener, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err == nil {
			port = p
			break
		}
	}
	if listener == nil {
		return nil, fmt.Errorf("no free callback port in %d-%d: %w", callbackPortFirst, callbackPortLast, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		query := r.URL.Query()
		token := query.Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusBadRequest)
			return
		}
		if err := handle(token, query.Get("refresh_token"), query.Get("user")); err != nil {
			logging.AuthError("sign-in callback rejected: %v", err)
			http.Error(w, "sign-in failed", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, callbackResponsePage)
	})

	cs := &callbackServer{
		listener: listener,
		server:   &http.Server{Handler: mux},
		port:     port,
	}
	go func() {
		if err := cs.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.AuthWarn("callback server stopped: %v", err)
		}
	}()
	logging.Auth("callback server listening on port %d", port)
	return cs, nil
}

// URL returns the callback URL to hand to the login page.
func (cs *callbackServer) URL() string {
	return fmt.Sprintf("http://localhost:%d", cs.port)
}

// Close shuts the listener down.
func (cs *callbackServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = cs.server.Shutdown(ctx)
}
