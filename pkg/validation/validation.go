package validation

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
)

// MaxMessageGraphemes bounds outbound text length. Counted in grapheme
// clusters, not bytes, so emoji and combining marks count as one.
const MaxMessageGraphemes = 4096

var (
	phonePattern = regexp.MustCompile(`^[1-9][0-9]{5,15}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// ValidatePhone ensures international format (no leading 0, digits only,
// length 6-16).
func ValidatePhone(phone string) error {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return errors.New("phone number cannot be empty")
	}
	if strings.HasPrefix(trimmed, "+") {
		trimmed = trimmed[1:]
	}
	if strings.HasPrefix(trimmed, "0") {
		return errors.New("phone number must be in international format without leading 0")
	}
	if !phonePattern.MatchString(trimmed) {
		return errors.New("phone number must be digits only and at least 6 characters")
	}
	return nil
}

// ValidateMessageText rejects empty and oversized message bodies.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message cannot be empty")
	}
	if count := uniseg.GraphemeClusterCount(text); count > MaxMessageGraphemes {
		return errors.New("message exceeds maximum length")
	}
	return nil
}

// IsEmojiOnly reports whether a message body consists of emoji exclusively.
// Used to pick log detail for outbound messages, nothing is rejected on it.
func IsEmojiOnly(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	return gomoji.RemoveEmojis(trimmed) == ""
}

// ValidateEmail ensures a plausible email address.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return errors.New("email must be valid")
	}
	return nil
}

// ValidateURL ensures a non-empty valid http(s) URL.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url cannot be empty")
	}
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return errors.New("url must be valid")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	return nil
}
