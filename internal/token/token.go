// Package token issues and validates the short-lived access tokens embedded
// in attendance QR codes. A token is the issue time in unix seconds behind a
// fixed prefix; freshness is judged entirely from the token itself.
package token

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const prefix = "qr_"

// ErrMalformed reports a token that does not match the qr_<unix> format.
var ErrMalformed = errors.New("malformed access token")

// ExpiredError reports a structurally valid token older than the window.
type ExpiredError struct {
	Age time.Duration
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("access token expired: age %.0fs exceeds window", e.Age.Seconds())
}

// Token is one issued QR access token.
type Token struct {
	Value    string
	IssuedAt time.Time
}

// Issue builds a token stamped with the given time. Issuing a new token
// supersedes the previous one only in the sense that the old one ages out;
// the old value stays structurally valid until its window passes.
func Issue(now time.Time) Token {
	t0 := now.Unix()
	return Token{
		Value:    prefix + strconv.FormatInt(t0, 10),
		IssuedAt: time.Unix(t0, 0),
	}
}

// Parse extracts the issue time from a token value.
func Parse(value string) (time.Time, error) {
	if !strings.HasPrefix(value, prefix) {
		return time.Time{}, ErrMalformed
	}
	t0, err := strconv.ParseInt(value[len(prefix):], 10, 64)
	if err != nil {
		return time.Time{}, ErrMalformed
	}
	return time.Unix(t0, 0), nil
}

// ValidateFreshness checks a presented token against the expiry window.
// Age exactly equal to the window still passes. The observed age is returned
// in both outcomes so callers can surface it to the student.
func ValidateFreshness(value string, now time.Time, window time.Duration) (time.Duration, error) {
	issuedAt, err := Parse(value)
	if err != nil {
		return 0, err
	}
	age := now.Sub(issuedAt)
	if age > window {
		return age, &ExpiredError{Age: age}
	}
	return age, nil
}

// CheckinURL builds the URL a QR code encodes: the student check-in page
// carrying the access token, the session scope and the location-required
// flag.
func CheckinURL(base string, tok Token, scope string, locationRequired bool) string {
	q := url.Values{}
	q.Set("access", tok.Value)
	if scope != "" {
		q.Set("company", scope)
	}
	if locationRequired {
		q.Set("loc", "1")
	} else {
		q.Set("loc", "0")
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}
