package utils

import (
	"errors"
	"strings"
)

// ErrInvalidMSISDN is returned for phone numbers that cannot be normalized.
var ErrInvalidMSISDN = errors.New("invalid msisdn")

// NormalizeMSISDN strips separators and prefixes countryCode unless the number already
// starts with it or was written in international form ("+" or "00").
func NormalizeMSISDN(raw, countryCode string) (string, error) {
	stripped := strings.TrimSpace(raw)
	for _, sep := range []string{" ", "-", ".", "(", ")"} {
		stripped = strings.ReplaceAll(stripped, sep, "")
	}

	international := false
	switch {
	case strings.HasPrefix(stripped, "+"):
		stripped = stripped[1:]
		international = true
	case strings.HasPrefix(stripped, "00"):
		stripped = stripped[2:]
		international = true
	}

	if stripped == "" {
		return "", ErrInvalidMSISDN
	}
	for _, r := range stripped {
		if r < '0' || r > '9' {
			return "", ErrInvalidMSISDN
		}
	}

	if !international && !strings.HasPrefix(stripped, countryCode) {
		stripped = countryCode + stripped
	}

	if len(stripped) < 9 || len(stripped) > 15 {
		return "", ErrInvalidMSISDN
	}
	return stripped, nil
}
