package identity

import (
	"fmt"
	"regexp"
)

const (
	MaxUsernameChars    = 20
	MaxDisplayNameChars = 30
)

// usernameRe allows letters and digits only.
var usernameRe = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// displayNameRe allows letters, digits, space, hyphen, underscore and dot.
// Apostrophes are not in the set.
var displayNameRe = regexp.MustCompile(`^[A-Za-z0-9 \-_.]+$`)

// ValidateUsername checks the username charset and length.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username is empty")
	}
	if len(username) > MaxUsernameChars {
		return fmt.Errorf("username exceeds %d character limit", MaxUsernameChars)
	}
	if !usernameRe.MatchString(username) {
		return fmt.Errorf("username may contain letters and digits only")
	}
	return nil
}

// ValidateDisplayName checks the display name charset and length.
func ValidateDisplayName(displayName string) error {
	if displayName == "" {
		return fmt.Errorf("display name is empty")
	}
	if len(displayName) > MaxDisplayNameChars {
		return fmt.Errorf("display name exceeds %d character limit", MaxDisplayNameChars)
	}
	if !displayNameRe.MatchString(displayName) {
		return fmt.Errorf("display name may contain letters, digits, spaces and -_. only")
	}
	return nil
}
