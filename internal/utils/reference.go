package utils

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxReferenceLength is the longest reference the providers accept.
const MaxReferenceLength = 20

const referenceTimestampLayout = "0102150405" // MMDDHHMMSS

// NewTransactionReference returns prefix followed by the MMDDHHMMSS timestamp of now.
// Two calls within the same second return the same value.
func NewTransactionReference(prefix string, now time.Time) string {
	maxPrefix := MaxReferenceLength - len(referenceTimestampLayout)
	if len(prefix) > maxPrefix {
		prefix = prefix[:maxPrefix]
	}
	return prefix + now.Format(referenceTimestampLayout)
}

// NewCorrelationReference returns the first 20 upper-case hex characters of a random UUID.
func NewCorrelationReference() string {
	s := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return s[:MaxReferenceLength]
}
