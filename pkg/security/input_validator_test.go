package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathRejectsTraversal(t *testing.T) {
	v := NewInputValidator(DefaultValidationConfig())
	err := v.ValidatePath("/data/in/../../etc/passwd")
	assert.Error(t, err)
}

func TestValidatePathRejectsRelative(t *testing.T) {
	v := NewInputValidator(DefaultValidationConfig())
	err := v.ValidatePath("relative/path")
	assert.Error(t, err)
}

func TestValidatePathAcceptsCleanAbsolutePath(t *testing.T) {
	v := NewInputValidator(DefaultValidationConfig())
	assert.NoError(t, v.ValidatePath("/data/hl7/inbound"))
}

func TestValidatePathRejectsBlockedDirectory(t *testing.T) {
	v := NewInputValidator(DefaultValidationConfig())
	err := v.ValidatePath("/etc/hie-engine/config.yaml")
	assert.Error(t, err)
}

func TestValidateURLRejectsNonHTTPScheme(t *testing.T) {
	v := NewInputValidator(DefaultValidationConfig())
	_, err := v.ValidateURL("ftp://example.com/file")
	assert.Error(t, err)
}

func TestValidateURLRejectsPrivateHost(t *testing.T) {
	v := NewInputValidator(DefaultValidationConfig())
	_, err := v.ValidateURL("http://127.0.0.1:8080/receive")
	assert.Error(t, err)
}

func TestValidateURLAcceptsPublicHTTPSEndpoint(t *testing.T) {
	v := NewInputValidator(DefaultValidationConfig())
	u, err := v.ValidateURL("https://api.example.com/v1/receive")
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", u.Host)
}

func TestValidateStringRejectsControlCharacters(t *testing.T) {
	v := NewInputValidator(DefaultValidationConfig())
	_, err := v.ValidateString("value\x07with-bell", "field")
	assert.Error(t, err)
}

func TestValidateStringStripsNullBytes(t *testing.T) {
	v := NewInputValidator(DefaultValidationConfig())
	cleaned, err := v.ValidateString("clean\x00value", "field")
	require.NoError(t, err)
	assert.Equal(t, "cleanvalue", cleaned)
}
