// Package redaction masks secrets before they reach persistent storage or
// log output. It detects provider API keys, bearer tokens and JWTs.
package redaction

import (
	"regexp"
	"sync"
)

// Marker replaces every detected secret.
const Marker = "[REDACTED]"

// Config holds redaction configuration.
type Config struct {
	// Enabled controls whether redaction is active.
	Enabled bool `json:"enabled"`

	// CustomPatterns allows additional regex patterns to redact.
	CustomPatterns []string `json:"custom_patterns"`
}

// DefaultConfig returns the default redaction configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Redactor applies a fixed family of secret patterns plus any custom ones.
type Redactor struct {
	config  Config
	builtin []*regexp.Regexp
	custom  []*regexp.Regexp
	mu      sync.RWMutex
}

// NewRedactor creates a Redactor with the given configuration. Invalid custom
// patterns are skipped.
func NewRedactor(config Config) *Redactor {
	r := &Redactor{
		config: config,
		builtin: []*regexp.Regexp{
			// Anthropic keys must be matched before the generic sk- form.
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-_]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
			regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9+/_\-\.=]{16,}`),
			regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
		},
	}
	for _, pattern := range config.CustomPatterns {
		re, err := regexp.Compile(pattern)
		if err == nil {
			r.custom = append(r.custom, re)
		}
	}
	return r
}

// Redact replaces every secret occurrence in input with the marker.
func (r *Redactor) Redact(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.config.Enabled {
		return input
	}

	result := input
	for _, re := range r.builtin {
		result = re.ReplaceAllString(result, Marker)
	}
	for _, re := range r.custom {
		result = re.ReplaceAllString(result, Marker)
	}
	return result
}

// RedactFields redacts string values in a map, recursing into nested maps.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if !r.enabled() {
		return fields
	}

	result := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			result[k] = r.Redact(val)
		case map[string]any:
			result[k] = r.RedactFields(val)
		default:
			result[k] = v
		}
	}
	return result
}

func (r *Redactor) enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Enabled
}

// SetEnabled toggles redaction at runtime.
func (r *Redactor) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Enabled = enabled
}

// AddCustomPattern adds a custom redaction pattern at runtime.
func (r *Redactor) AddCustomPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom = append(r.custom, re)
	return nil
}

// Global redactor instance with default config.
var globalRedactor = NewRedactor(DefaultConfig())

// Redact applies redaction using the global redactor.
func Redact(input string) string {
	return globalRedactor.Redact(input)
}

// RedactFields redacts fields using the global redactor.
func RedactFields(fields map[string]any) map[string]any {
	return globalRedactor.RedactFields(fields)
}

// SetGlobalConfig replaces the global redactor configuration.
func SetGlobalConfig(config Config) {
	globalRedactor = NewRedactor(config)
}
