// Package security validates and redacts untrusted strings that cross a
// production's boundary: adapter-configured file paths and URLs at Deploy
// time, and connection strings/credentials before they reach a log line.
package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/hie-engine/runtime-core/pkg/errors"
)

// InputValidator checks adapter-configured paths and URLs before Deploy
// lets an item reach Running (spec §7: a ConfigError aborts Deploy).
type InputValidator struct {
	config ValidationConfig
}

// ValidationConfig configures the input validator.
type ValidationConfig struct {
	MaxPathLength    int      `yaml:"max_path_length"`
	MaxStringLength  int      `yaml:"max_string_length"`
	AllowedPathChars string   `yaml:"allowed_path_chars"`
	BlockedPatterns  []string `yaml:"blocked_patterns"`
	RequireAbsolute  bool     `yaml:"require_absolute"`
}

// DefaultValidationConfig returns safe default configuration.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxPathLength:    4096,
		MaxStringLength:  65536,
		AllowedPathChars: "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./",
		BlockedPatterns: []string{
			`\.\.`,   // path traversal
			"/etc/",  // system directories
			"/proc/", // system directories
			"/sys/",  // system directories
			"/dev/",  // device files
			"/root/", // root home
			`\$\{`,   // variable expansion
			"`",      // command execution
			`\|`,     // pipe commands
			";",      // command separation
			"&",      // background execution
		},
		RequireAbsolute: true,
	}
}

// NewInputValidator builds an InputValidator from config.
func NewInputValidator(config ValidationConfig) *InputValidator {
	return &InputValidator{config: config}
}

// ValidatePath checks a configured file_path/work_path/archive_path/
// error_path against traversal, blocked directories, and an allowed
// character set.
func (v *InputValidator) ValidatePath(path string) error {
	if path == "" {
		return errors.ConfigErr("validate_path", "path cannot be empty")
	}

	if len(path) > v.config.MaxPathLength {
		return errors.ConfigErr("validate_path", fmt.Sprintf("path too long: %d chars (max %d)", len(path), v.config.MaxPathLength))
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return errors.ConfigErr("validate_path", "path traversal detected").WithMetadata("path", path)
	}

	if v.config.RequireAbsolute && !filepath.IsAbs(cleanPath) {
		return errors.ConfigErr("validate_path", "path must be absolute").WithMetadata("path", path)
	}

	for _, pattern := range v.config.BlockedPatterns {
		if matched, _ := regexp.MatchString(pattern, cleanPath); matched {
			return errors.ConfigErr("validate_path", "path contains blocked pattern").
				WithMetadata("path", path).
				WithMetadata("pattern", pattern)
		}
	}

	for _, char := range cleanPath {
		if !strings.ContainsRune(v.config.AllowedPathChars, char) {
			return errors.ConfigErr("validate_path", "path contains invalid character").
				WithMetadata("path", path).
				WithMetadata("char", string(char))
		}
	}

	return nil
}

// ValidateURL checks a configured HTTP adapter url against scheme and host
// restrictions, rejecting anything but plain http/https pointed at a
// non-private host.
func (v *InputValidator) ValidateURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, errors.ConfigErr("validate_url", "url cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.ConfigErr("validate_url", "invalid url format").Wrap(err)
	}

	allowedSchemes := map[string]bool{"http": true, "https": true}
	if !allowedSchemes[parsedURL.Scheme] {
		return nil, errors.ConfigErr("validate_url", "unsupported url scheme").
			WithMetadata("scheme", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return nil, errors.ConfigErr("validate_url", "url host cannot be empty")
	}

	if v.isPrivateHost(parsedURL.Host) {
		return nil, errors.ConfigErr("validate_url", "private/localhost urls not allowed").
			WithMetadata("host", parsedURL.Host)
	}

	return parsedURL, nil
}

// ValidateString enforces a max length and strips/rejects control
// characters and configured blocked patterns from a general string field.
func (v *InputValidator) ValidateString(input, fieldName string) (string, error) {
	if len(input) > v.config.MaxStringLength {
		return "", errors.ValidationErr("validate_string", fmt.Sprintf("%s too long: %d chars (max %d)", fieldName, len(input), v.config.MaxStringLength))
	}

	cleaned := strings.ReplaceAll(input, "\x00", "")

	for _, char := range cleaned {
		if unicode.IsControl(char) && char != '\n' && char != '\t' && char != '\r' {
			return "", errors.ValidationErr("validate_string", fmt.Sprintf("%s contains control characters", fieldName)).
				WithMetadata("char_code", fmt.Sprintf("%d", char))
		}
	}

	for _, pattern := range v.config.BlockedPatterns {
		if matched, _ := regexp.MatchString(pattern, cleaned); matched {
			return "", errors.ValidationErr("validate_string", fmt.Sprintf("%s contains blocked pattern", fieldName)).
				WithMetadata("pattern", pattern)
		}
	}

	return cleaned, nil
}

// isPrivateHost reports whether host is localhost or in a private range,
// the way a production reached over a loopback/RFC1918 address would
// bypass whatever network boundary protects the real endpoint.
func (v *InputValidator) isPrivateHost(host string) bool {
	if colonIndex := strings.LastIndex(host, ":"); colonIndex > 0 {
		host = host[:colonIndex]
	}

	privateHosts := []string{"localhost", "127.0.0.1", "::1", "0.0.0.0"}
	for _, private := range privateHosts {
		if host == private {
			return true
		}
	}

	privateRanges := []string{
		"10.",
		"172.16.", "172.17.", "172.18.", "172.19.", "172.20.",
		"172.21.", "172.22.", "172.23.", "172.24.", "172.25.",
		"172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.",
		"169.254.",
	}
	for _, prefix := range privateRanges {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}

	return false
}
