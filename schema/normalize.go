package schema

import "strings"

// ValidateUserID ensures a user id matches [a-z0-9._-] with no normalization.
func ValidateUserID(userID UserID) error {
	raw := string(userID)
	if raw == "" {
		return ErrInvalidUser
	}
	if strings.TrimSpace(raw) != raw {
		return ErrInvalidUser
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidUser
	}
	return nil
}

// NormalizeEventName maps a user supplied event name onto the known set.
// Matching is exact after trimming surrounding space.
func NormalizeEventName(value string) (EventName, error) {
	name := EventName(strings.TrimSpace(value))
	if !name.Known() {
		return "", ErrUnknownEvent
	}
	return name, nil
}
