package types

import (
	"regexp"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks a conversation id taken from the request path
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 64 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidDisplayName accepts 1-100 runes of valid UTF-8
func IsValidDisplayName(name string) bool {
	if !utf8.ValidString(name) {
		return false
	}
	n := utf8.RuneCountInString(name)
	return n >= 1 && n <= 100
}

// Validate ensures the identity can be used on the wire
func (i Identity) Validate() error {
	if !IsValidUserID(i.UserID) {
		return ErrInvalidUserID
	}
	if !IsValidDisplayName(i.DisplayName) {
		return ErrInvalidDisplayName
	}
	return nil
}

// ValidateContent checks a chat message body against the size limit.
// Empty content is valid here; callers drop it silently.
func ValidateContent(content string, maxLen int) error {
	if !utf8.ValidString(content) {
		return ErrMalformedPayload
	}
	if maxLen > 0 && len(content) > maxLen {
		return ErrContentTooLarge
	}
	return nil
}
