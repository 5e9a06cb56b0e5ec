package auth

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/hivecore/hivecore/pkg/logger"
)

// codexTokenURL is the refresh-token exchange endpoint for Codex OAuth.
const codexTokenURL = "https://auth.openai.com/oauth/token"

// expiryWarnWindow triggers a log warning when the refreshed token is close
// to needing another login.
const expiryWarnWindow = 24 * time.Hour

// CodexToken returns a valid access token for the openai-codex entry,
// refreshing it first when expired. Concurrent callers share one refresh.
func (s *Store) CodexToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	_, cred, err := s.load(EntryOpenAICodex)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if cred.Access != "" && !expired(cred.Expires) {
		return cred.Access, nil
	}
	if cred.Refresh == "" {
		return "", &MissingError{Entry: EntryOpenAICodex, Path: s.path}
	}

	v, err, _ := s.refresh.Do(EntryOpenAICodex, func() (any, error) {
		// Re-read under the flight: another process may have refreshed while
		// we waited for the lock.
		s.mu.Lock()
		_, latest, err := s.load(EntryOpenAICodex)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if latest.Access != "" && !expired(latest.Expires) {
			return latest.Access, nil
		}
		return s.exchange(ctx, latest)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// exchange performs the refresh-token grant and persists the new credential.
func (s *Store) exchange(ctx context.Context, cred *Credential) (string, error) {
	conf := &oauth2.Config{
		ClientID: clientIDFromJWT(cred.Access),
		Endpoint: oauth2.Endpoint{TokenURL: s.tokenURL},
	}

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.Refresh}).Token()
	if err != nil {
		return "", &RefreshError{Entry: EntryOpenAICodex, Err: err}
	}

	updated := &Credential{
		Access:  tok.AccessToken,
		Refresh: cred.Refresh,
		Expires: tok.Expiry.UnixMilli(),
	}
	// Providers may rotate the refresh token; prefer the new one.
	if tok.RefreshToken != "" {
		updated.Refresh = tok.RefreshToken
	}

	s.mu.Lock()
	err = s.save(EntryOpenAICodex, updated)
	s.mu.Unlock()
	if err != nil {
		logger.WarnCF("auth", "refreshed token could not be persisted", map[string]any{
			"error": err.Error(),
		})
	}

	if until := time.Until(tok.Expiry); until > 0 && until < expiryWarnWindow {
		logger.WarnC("auth", "codex access token expires within 24h, a new login will be needed soon")
	}

	logger.InfoC("auth", "codex access token refreshed")
	return updated.Access, nil
}

// expired treats the millisecond epoch as already expired when it is within
// a small skew window of now.
func expired(expiresMs int64) bool {
	if expiresMs == 0 {
		return true
	}
	const skew = 30 * time.Second
	return time.Now().Add(skew).UnixMilli() >= expiresMs
}
