package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultWaitTimeout bounds how long an authorization may sit in the
// browser before the login attempt is abandoned.
const DefaultWaitTimeout = 5 * time.Minute

const successPage = `<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>Authorization complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`

const errorPage = `<!DOCTYPE html>
<html>
<head><title>Authorization failed</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>Authorization failed</h1>
<p>%s</p>
</body>
</html>`

// CallbackServer is a loopback HTTP server that receives exactly one
// OAuth authorization code. The first terminal outcome (code, error,
// or state mismatch) wins; later requests are answered but ignored.
type CallbackServer struct {
	path  string
	state string

	ln        net.Listener
	srv       *http.Server
	resultCh  chan callbackResult
	closeOnce sync.Once
}

type callbackResult struct {
	code string
	err  error
}

// NewCallbackServer creates a server for one authorization attempt.
func NewCallbackServer(path, state string) *CallbackServer {
	return &CallbackServer{
		path:     path,
		state:    state,
		resultCh: make(chan callbackResult, 1),
	}
}

// Start binds the loopback listener and begins serving. port 0 picks
// a free port; Addr reports the bound address.
func (s *CallbackServer) Start(port int) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("unable to start oauth callback server: %w", err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handle)
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.reportErr(err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, for building the redirect
// URL when the port was 0.
func (s *CallbackServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("state") != s.state {
		writeErrorPage(w, "Invalid state parameter.")
		s.reportErr(errors.New("oauth state mismatch"))
		return
	}
	if errText := q.Get("error"); errText != "" {
		writeErrorPage(w, "The provider reported: "+errText)
		s.reportErr(fmt.Errorf("oauth error: %s", errText))
		return
	}
	code := q.Get("code")
	if code == "" {
		writeErrorPage(w, "Missing code parameter.")
		s.reportErr(errors.New("oauth callback missing code"))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(successPage))
	s.report(callbackResult{code: code})
}

func (s *CallbackServer) reportErr(err error) {
	s.report(callbackResult{err: err})
}

// report records the first terminal outcome; later ones are dropped.
func (s *CallbackServer) report(r callbackResult) {
	select {
	case s.resultCh <- r:
	default:
	}
}

func writeErrorPage(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, errorPage, msg)
}

// Wait blocks until a code arrives, an error is recorded, the
// timeout elapses, or ctx is cancelled.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-s.resultCh:
		return res.code, res.err
	case <-timer.C:
		return "", errors.New("timed out waiting for oauth callback")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close shuts the server down. Safe to call more than once.
func (s *CallbackServer) Close() {
	s.closeOnce.Do(func() {
		if s.srv != nil {
			_ = s.srv.Shutdown(context.Background())
		}
	})
}
