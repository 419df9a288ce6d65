package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns a random connection or session id.
func GenerateID() string {
	return uuid.NewString()
}

// ShortID returns the first n hex characters of a random uuid, for log
// correlation where a full id is noise.
func ShortID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n <= 0 || n > len(id) {
		return id
	}
	return id[:n]
}
