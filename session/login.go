package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const loginTimeout = 5 * time.Minute

// Login runs the one-shot PKCE authorization-code flow: prints the authorize
// URL, waits for the provider to redirect the browser back to the loopback
// listener, exchanges the code and persists the token.
func (s *Session) Login(ctx context.Context) error {
	if s.cfg.ClientID == "" {
		return errors.New("client id not configured")
	}

	redirect, err := url.Parse(s.cfg.RedirectURL)
	if err != nil {
		return errors.Wrap(err, "invalid redirect url")
	}

	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return err
	}

	authURL := s.cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("audience", Audience),
	)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errCh <- errors.New("authorization response carried wrong state")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- errors.New("authorization response carried no code")
			return
		}
		fmt.Fprintln(w, "panelkit authorized, you can close this window")
		codeCh <- code
	})

	srv := &http.Server{
		Addr:              redirect.Host,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Wrap(err, "callback listener failed")
		}
	}()
	defer srv.Close()

	fmt.Println("Open the following URL in your browser to authorize panelkit:")
	fmt.Println()
	fmt.Println(authURL)
	fmt.Println()

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "timed out waiting for authorization")
	}

	tok, err := s.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return errors.Wrap(err, "code exchange failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = tok
	if err := s.saveLocked(); err != nil {
		return err
	}

	s.log.Info("login complete", "expiry", tok.Expiry)
	return nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to generate state")
	}
	return hex.EncodeToString(buf), nil
}
