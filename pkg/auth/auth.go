// Package auth reads and refreshes OAuth credentials written by the external
// login command. The credential file may contain unrelated entries; those are
// preserved byte-for-byte on write-back.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Entry names inside the auth file.
const (
	EntryOpenAICodex = "openai-codex"
	EntryAnthropic   = "anthropic"
)

// AnthropicTokenEnv supplies the Anthropic OAuth token as an alternative to
// the auth file.
const AnthropicTokenEnv = "HIVECORE_ANTHROPIC_OAUTH_TOKEN"

// defaultClientID is used when the access token's JWT payload carries no
// client_id claim.
const defaultClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

// Credential is one OAuth entry: access/refresh tokens plus a millisecond
// epoch expiry.
type Credential struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Expires int64  `json:"expires"`
}

// MissingError reports absent credentials along with actionable guidance.
type MissingError struct {
	Entry string
	Path  string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf(
		"no %q credentials found in %s; run the provider login command first",
		e.Entry, e.Path,
	)
}

// RefreshError reports a failed refresh-token exchange.
type RefreshError struct {
	Entry string
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refreshing %q token: %v", e.Entry, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Store manages the credential file. Refreshes are deduplicated: concurrent
// callers share one in-flight HTTP exchange.
type Store struct {
	path string
	// tokenURL is the refresh-token exchange endpoint; tests point it at a
	// local server.
	tokenURL string

	mu         sync.Mutex
	refresh    singleflight.Group
	generation atomic.Int64
}

// NewStore creates a Store for the auth file at path.
func NewStore(path string) *Store {
	return &Store{path: path, tokenURL: codexTokenURL}
}

// Generation increments whenever credentials change on disk. Smoke-test
// gating uses it to retry after a new login or refresh.
func (s *Store) Generation() int64 {
	return s.generation.Load()
}

// load reads the whole auth file, returning the raw sibling map and the
// decoded entry.
func (s *Store) load(entry string) (map[string]json.RawMessage, *Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, &MissingError{Entry: entry, Path: s.path}
		}
		return nil, nil, fmt.Errorf("reading auth file: %w", err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, nil, fmt.Errorf("parsing auth file: %w", err)
	}

	raw, ok := all[entry]
	if !ok {
		return all, nil, &MissingError{Entry: entry, Path: s.path}
	}

	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return all, nil, fmt.Errorf("parsing auth entry %q: %w", entry, err)
	}
	return all, &cred, nil
}

// save writes the entry back, preserving every sibling key.
func (s *Store) save(entry string, cred *Credential) error {
	all, _, err := s.load(entry)
	if err != nil {
		if _, missing := err.(*MissingError); !missing {
			return err
		}
	}
	if all == nil {
		all = make(map[string]json.RawMessage)
	}

	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	all[entry] = raw

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}
	s.generation.Add(1)
	return nil
}

// AnthropicToken returns the Anthropic OAuth token from the environment, or
// falls back to the auth file entry.
func (s *Store) AnthropicToken() (string, error) {
	if tok := strings.TrimSpace(os.Getenv(AnthropicTokenEnv)); tok != "" {
		return tok, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, cred, err := s.load(EntryAnthropic)
	if err != nil {
		return "", err
	}
	if cred.Access == "" {
		return "", &MissingError{Entry: EntryAnthropic, Path: s.path}
	}
	return cred.Access, nil
}

// clientIDFromJWT extracts the client_id claim from a JWT access token,
// falling back to the hard-coded default.
func clientIDFromJWT(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return defaultClientID
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return defaultClientID
	}
	var claims struct {
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.ClientID == "" {
		return defaultClientID
	}
	return claims.ClientID
}
