package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	MaxPatchSize   = 256 * 1024 // a single CSS or JS patch
	MaxRequestSize = 16 * 1024  // modification request text
	MaxImageSize   = 8 << 20    // decoded screenshot
	MaxAddressSize = 2048
	MaxIDLength    = 128
)

// SafeIDPattern allows alphanumeric, hyphens, underscores
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks an identifier from a path or query parameter
func ValidateID(id, fieldName string, required bool) error {
	if id == "" {
		if required {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s exceeds maximum length of %d", fieldName, MaxIDLength)
	}
	if !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidatePatch checks one style or script patch
func ValidatePatch(kind, content string) error {
	if len(content) > MaxPatchSize {
		return fmt.Errorf("%s patch of %d bytes exceeds maximum %d bytes", kind, len(content), MaxPatchSize)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%s patch is not valid UTF-8", kind)
	}
	return nil
}

// ValidateAddress bounds navigation input; parsing happens in the session
func ValidateAddress(address string) error {
	if len(address) > MaxAddressSize {
		return fmt.Errorf("address exceeds maximum length of %d", MaxAddressSize)
	}
	if strings.ContainsAny(address, "\x00\r\n") {
		return fmt.Errorf("address contains control characters")
	}
	return nil
}

// ValidateRequest checks modification request text and attachment size
func ValidateRequest(text string, imageSize int) error {
	if len(text) > MaxRequestSize {
		return fmt.Errorf("request exceeds maximum size of %d bytes", MaxRequestSize)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("request must be valid UTF-8")
	}
	if imageSize > MaxImageSize {
		return fmt.Errorf("image of %d bytes exceeds maximum %d bytes", imageSize, MaxImageSize)
	}
	return nil
}
