// Package session holds the OAuth2 PKCE session against the Basis identity
// provider and hands out bearer tokens, refreshing them lazily on expiry.
package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const (
	AuthorizeURL = "https://auth.wearebasis.com/authorize"
	TokenURL     = "https://auth.wearebasis.com/oauth/token"
	Audience     = "https://api.wearebasis.io"
)

// Scopes requested during login; offline_access yields the refresh token the
// daemon lives on.
var Scopes = []string{"home", "openid", "profile", "email", "offline_access"}

const tokenFileName = "token.json"
const defaultRedirectURL = "http://localhost:8129/callback"

// Session persists an OAuth2 token under the state directory and implements
// the token provider contract of the API client: a valid bearer immediately
// before each call, refreshed only when expired.
type Session struct {
	cfg  *oauth2.Config
	path string

	mu      sync.Mutex
	current *oauth2.Token

	log *log.Logger
}

// New builds a session for the given public OAuth2 client. redirectURL may be
// empty, it then defaults to a loopback callback used by the login flow.
func New(clientID, redirectURL, stateDir string) *Session {
	if redirectURL == "" {
		redirectURL = defaultRedirectURL
	}

	return &Session{
		cfg: &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: redirectURL,
			Scopes:      Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  AuthorizeURL,
				TokenURL: TokenURL,
			},
		},
		path: filepath.Join(stateDir, tokenFileName),
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "session: ",
			Level:  log.GetLevel(),
		}),
	}
}

// Load reads the persisted token. Must succeed before Token can be used;
// a missing file means the user never ran the login flow.
func (s *Session) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Session) loadLocked() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("no stored token at %s, run with -login first", s.path)
		}
		return errors.Wrap(err, "failed to read token file")
	}

	tok := &oauth2.Token{}
	if err := json.Unmarshal(raw, tok); err != nil {
		return errors.Wrap(err, "failed to parse token file")
	}
	if tok.RefreshToken == "" && !tok.Valid() {
		return errors.New("stored token is expired and has no refresh token, run with -login again")
	}

	s.current = tok
	return nil
}

func (s *Session) saveLocked() error {
	raw, err := json.Marshal(s.current)
	if err != nil {
		return errors.Wrap(err, "failed to encode token")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create state directory")
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return errors.Wrap(err, "failed to write token file")
	}
	return nil
}

// Token returns a valid access token, refreshing through the token endpoint
// when the stored one expired. Rotated tokens are persisted so a restart
// keeps the session.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		if err := s.loadLocked(); err != nil {
			return "", err
		}
	}

	tok, err := s.cfg.TokenSource(ctx, s.current).Token()
	if err != nil {
		return "", errors.Wrap(err, "token refresh failed")
	}

	if tok.AccessToken != s.current.AccessToken || tok.RefreshToken != s.current.RefreshToken {
		s.current = tok
		if err := s.saveLocked(); err != nil {
			s.log.Warn("failed to persist refreshed token", "err", err)
		} else {
			s.log.Debug("refreshed token persisted", "expiry", tok.Expiry)
		}
	}

	return tok.AccessToken, nil
}
