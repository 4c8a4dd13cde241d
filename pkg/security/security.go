package security

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// Security limits and configuration
const (
	// MaxCodeLength is the maximum length for operation and batch codes
	MaxCodeLength = 64

	// MaxOperatorLength is the maximum length for operator references
	MaxOperatorLength = 128

	// MaxSerialPrefixLength is the maximum length for serial number prefixes
	MaxSerialPrefixLength = 16

	// MaxPayloadSize is the maximum size in bytes for attempt payloads (64KiB)
	MaxPayloadSize = 64 << 10

	// MaxReworkLimit is the hard limit for configured rework counts
	MaxReworkLimit = 100

	// MaxHistoryPage is the largest page returned by a history query
	MaxHistoryPage = 1000

	// MaxMessageLength is the maximum length for sanitized messages
	MaxMessageLength = 1024
)

// validCode matches alphanumeric, hyphens, underscores, and dots
var validCode = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

var validPrefix = regexp.MustCompile(`^[a-zA-Z0-9_\-]*$`)

// ValidateCode validates an operation or batch code
func ValidateCode(code string) error {
	if code == "" {
		return core.NewError(core.KindValidation, "security.code", "code is required", nil)
	}
	if len(code) > MaxCodeLength {
		return core.Errorf(core.KindValidation, "security.code", "code exceeds %d characters", MaxCodeLength)
	}
	if !validCode.MatchString(code) {
		return core.Errorf(core.KindValidation, "security.code", "invalid code %q", code)
	}
	return nil
}

// ValidateOperator validates the operator reference recorded on an attempt
func ValidateOperator(operator string) error {
	if strings.TrimSpace(operator) == "" {
		return core.NewError(core.KindValidation, "security.operator", "operator is required", nil)
	}
	if len(operator) > MaxOperatorLength {
		return core.Errorf(core.KindValidation, "security.operator", "operator exceeds %d characters", MaxOperatorLength)
	}
	for _, r := range operator {
		if r < 32 || r == 127 {
			return core.NewError(core.KindValidation, "security.operator", "operator contains control characters", nil)
		}
	}
	return nil
}

// ValidateSerialPrefix validates the prefix used for generated serial numbers.
// An empty prefix is allowed.
func ValidateSerialPrefix(prefix string) error {
	if len(prefix) > MaxSerialPrefixLength {
		return core.Errorf(core.KindValidation, "security.serial_prefix", "prefix exceeds %d characters", MaxSerialPrefixLength)
	}
	if !validPrefix.MatchString(prefix) {
		return core.Errorf(core.KindValidation, "security.serial_prefix", "invalid prefix %q", prefix)
	}
	return nil
}

// ValidatePayload checks an attempt payload. Empty payloads are allowed;
// anything else must be a JSON document no larger than MaxPayloadSize.
func ValidatePayload(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if len(payload) > MaxPayloadSize {
		return core.Errorf(core.KindValidation, "security.payload", "payload exceeds %d bytes", MaxPayloadSize)
	}
	if !json.Valid(payload) {
		return core.NewError(core.KindValidation, "security.payload", "payload is not valid JSON", nil)
	}
	return nil
}

// SanitizeMessage strips control characters and truncates error text that
// is copied into logs and command output
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxMessageLength-3]) + "..."
	}

	return result
}

// ClampRework ensures a rework limit is within limits
func ClampRework(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxReworkLimit {
		return MaxReworkLimit
	}
	return n
}

// ClampHistoryPage ensures a history page size is within limits.
// Non-positive values select the maximum page.
func ClampHistoryPage(n int) int {
	if n <= 0 || n > MaxHistoryPage {
		return MaxHistoryPage
	}
	return n
}
