// Package sessioncode generates and checks the short codes participants type
// to join a session.
//
// Codes are six characters drawn from an alphabet without look-alikes (no 0/O,
// no 1/I). Format checks never consult the store, so a malformed code and an
// unknown code are indistinguishable to callers.
package sessioncode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

// Alphabet is the set of characters a code may contain.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the number of characters in a code.
const Length = 6

// DefaultMaxAttempts bounds Allocate when the caller passes zero.
const DefaultMaxAttempts = 5

// ErrExhausted is returned by Allocate when every attempt collided.
var ErrExhausted = errors.New("sessioncode: no free code within retry budget")

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate returns a random code.
func Generate() (string, error) {
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("sessioncode: read random: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize uppercases input and drops whitespace and dashes, so "ab3-x9k "
// becomes "AB3X9K". It does not validate.
func Normalize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// IsValidFormat reports whether code has the right length and alphabet.
func IsValidFormat(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// Allocate generates codes and hands each to claim until one is accepted.
// claim should insert the code under a uniqueness constraint; when it
// returns an error for which collided reports true, another code is tried.
// Any other error aborts. After maxAttempts collisions Allocate returns
// ErrExhausted rather than looping.
func Allocate(maxAttempts int, claim func(code string) error, collided func(error) bool) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := Generate()
		if err != nil {
			return "", err
		}
		err = claim(code)
		if err == nil {
			return code, nil
		}
		if !collided(err) {
			return "", err
		}
	}
	return "", ErrExhausted
}
