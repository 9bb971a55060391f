package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// RoomIDRegex matches room identifiers as they appear in URLs.
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

	// IdentityRegex matches stable user identities issued by the identity
	// provider, e.g. "user_42" or "auth0|5f1c".
	IdentityRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@|:-]+$`)
)

const (
	MaxRoomIDLength      = 128
	MaxIdentityLength    = 256
	MaxDisplayNameLength = 80
	MaxReasonLength      = 500
	MaxParticipantLimit  = 10000
)

func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room_id is required")
	}
	if len(roomID) > MaxRoomIDLength {
		return fmt.Errorf("room_id is too long (max %d characters)", MaxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room_id format")
	}
	return nil
}

func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if len(identity) > MaxIdentityLength {
		return fmt.Errorf("identity is too long (max %d characters)", MaxIdentityLength)
	}
	if !IdentityRegex.MatchString(identity) {
		return fmt.Errorf("invalid identity format")
	}
	return nil
}

// NormalizeDisplayName trims and collapses whitespace, strips control
// characters and falls back to fallback when nothing is left.
func NormalizeDisplayName(name, fallback string) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("display_name is not valid UTF-8")
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, name)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return fallback, nil
	}
	if utf8.RuneCountInString(cleaned) > MaxDisplayNameLength {
		return "", fmt.Errorf("display_name is too long (max %d characters)", MaxDisplayNameLength)
	}
	return cleaned, nil
}

func ValidateParticipantLimit(limit int) error {
	if limit < 0 {
		return fmt.Errorf("participant_limit must be >= 0")
	}
	if limit > MaxParticipantLimit {
		return fmt.Errorf("participant_limit is too high (max %d)", MaxParticipantLimit)
	}
	return nil
}

func ValidateReason(reason string) error {
	return ValidateStringLength(reason, 0, MaxReasonLength, "reason")
}

func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
