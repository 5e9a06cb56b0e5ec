package auth

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAuthFile(t *testing.T, contents map[string]any) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	data, err := json.Marshal(contents)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope.json"))
	_, _, err := s.load(EntryOpenAICodex)
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, EntryOpenAICodex, missing.Entry)
}

func TestLoadMissingEntry(t *testing.T) {
	path := writeAuthFile(t, map[string]any{
		"other-tool": map[string]any{"token": "abc"},
	})
	s := NewStore(path)
	_, _, err := s.load(EntryOpenAICodex)
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Error(), "login")
}

func TestSavePreservesSiblings(t *testing.T) {
	path := writeAuthFile(t, map[string]any{
		EntryOpenAICodex: map[string]any{"access": "old", "refresh": "r1", "expires": 1},
		"other-tool":     map[string]any{"custom": "keep-me"},
	})
	s := NewStore(path)

	require.NoError(t, s.save(EntryOpenAICodex, &Credential{
		Access:  "new",
		Refresh: "r2",
		Expires: time.Now().Add(time.Hour).UnixMilli(),
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var all map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &all))

	assert.Contains(t, all, "other-tool")
	assert.JSONEq(t, `{"custom":"keep-me"}`, string(all["other-tool"]))

	var cred Credential
	require.NoError(t, json.Unmarshal(all[EntryOpenAICodex], &cred))
	assert.Equal(t, "new", cred.Access)
	assert.Equal(t, "r2", cred.Refresh)
}

func TestSaveBumpsGeneration(t *testing.T) {
	path := writeAuthFile(t, map[string]any{})
	s := NewStore(path)
	before := s.Generation()
	require.NoError(t, s.save(EntryOpenAICodex, &Credential{Access: "a"}))
	assert.Equal(t, before+1, s.Generation())
}

func TestAnthropicTokenEnvOverride(t *testing.T) {
	t.Setenv(AnthropicTokenEnv, "env-token")
	s := NewStore(filepath.Join(t.TempDir(), "nope.json"))
	tok, err := s.AnthropicToken()
	require.NoError(t, err)
	assert.Equal(t, "env-token", tok)
}

func TestAnthropicTokenFromFile(t *testing.T) {
	t.Setenv(AnthropicTokenEnv, "")
	path := writeAuthFile(t, map[string]any{
		EntryAnthropic: map[string]any{"access": "file-token"},
	})
	s := NewStore(path)
	tok, err := s.AnthropicToken()
	require.NoError(t, err)
	assert.Equal(t, "file-token", tok)
}

func TestCodexTokenReturnsUnexpiredAccess(t *testing.T) {
	path := writeAuthFile(t, map[string]any{
		EntryOpenAICodex: map[string]any{
			"access":  "still-good",
			"refresh": "r",
			"expires": time.Now().Add(time.Hour).UnixMilli(),
		},
	})
	s := NewStore(path)
	tok, err := s.CodexToken(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "still-good", tok)
}

func TestCodexTokenExpiredNoRefresh(t *testing.T) {
	path := writeAuthFile(t, map[string]any{
		EntryOpenAICodex: map[string]any{"access": "stale", "expires": 1},
	})
	s := NewStore(path)
	_, err := s.CodexToken(t.Context())
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
}

func TestClientIDFromJWT(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"client_id":"app_custom123"}`))
	token := "hdr." + payload + ".sig"
	assert.Equal(t, "app_custom123", clientIDFromJWT(token))

	assert.Equal(t, defaultClientID, clientIDFromJWT("not-a-jwt"))
	assert.Equal(t, defaultClientID, clientIDFromJWT("a.!!!.c"))

	empty := base64.RawURLEncoding.EncodeToString([]byte(`{}`))
	assert.Equal(t, defaultClientID, clientIDFromJWT("a."+empty+".c"))
}

func TestExpired(t *testing.T) {
	assert.True(t, expired(0))
	assert.True(t, expired(time.Now().Add(-time.Minute).UnixMilli()))
	assert.True(t, expired(time.Now().Add(10*time.Second).UnixMilli()), "inside skew window")
	assert.False(t, expired(time.Now().Add(time.Hour).UnixMilli()))
}
