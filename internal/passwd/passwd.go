// Package passwd hashes and verifies the optional per-session share password.
package passwd

import "golang.org/x/crypto/bcrypt"

// Cost is the bcrypt work factor. bcrypt.DefaultCost is tuned for interactive
// logins; shares are opened far less often than login forms, so a slightly
// higher cost is affordable, but we keep the default to avoid surprising
// latency on a Relay serving many concurrent registrations.
const Cost = bcrypt.DefaultCost

// Hash returns a bcrypt hash of pw suitable for storing on a Session.
func Hash(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether pw matches hash. A nil error means success.
func Verify(pw, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
}
