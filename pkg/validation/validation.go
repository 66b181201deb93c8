package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IdentifierRegex constrains room, user and device identifiers to wire-safe
	// characters.
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

// ValidateRoomID validates a room identifier.
func ValidateRoomID(id string) error {
	return validateIdentifier("room id", id, 128)
}

// ValidateUserID validates a user identifier.
func ValidateUserID(id string) error {
	return validateIdentifier("user id", id, 128)
}

// ValidateDeviceID validates a device identifier. Device IDs come from the
// OS driver layer, so only length and emptiness are enforced.
func ValidateDeviceID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("device id is required")
	}
	if len(id) > 256 {
		return fmt.Errorf("device id is too long (max 256 characters)")
	}
	return nil
}

// ValidateDisplayName validates a human-readable member name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > 64 {
		return fmt.Errorf("display name is too long (max 64 characters)")
	}
	return nil
}

func validateIdentifier(field, id string, maxLen int) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > maxLen {
		return fmt.Errorf("%s is too long (max %d characters)", field, maxLen)
	}
	if !IdentifierRegex.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	return nil
}
