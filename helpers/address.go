package helpers

import (
	"fmt"
	"strings"
)

// SplitEmailAddress splits an address into lowercased local part and
// domain at the last '@'.
func SplitEmailAddress(email string) (string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", fmt.Errorf("invalid email address %q", email)
	}
	return email[:at], email[at+1:], nil
}
