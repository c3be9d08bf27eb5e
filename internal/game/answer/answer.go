// Package answer implements the one-way answer commitment for a round.
//
// A commitment is the hex SHA-256 digest of the normalized secret answer.
// Guesses are verified by recomputing the digest; the plaintext answer is
// never needed after the commitment is built.
package answer

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidAnswerCommitment is returned when an answer cannot be committed
// or a stored commitment is malformed. A round must not be activated with it.
var ErrInvalidAnswerCommitment = errors.New("invalid answer commitment")

// Commitment is a hex-encoded SHA-256 digest of a normalized answer.
type Commitment string

// Normalize lowercases s and strips surrounding whitespace.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Commit builds the commitment for secret.
func Commit(secret string) (Commitment, error) {
	normalized := Normalize(secret)
	if normalized == "" {
		return "", ErrInvalidAnswerCommitment
	}
	return digest(normalized), nil
}

// Verify reports whether guess matches the answer behind c.
func Verify(guess string, c Commitment) bool {
	if c.Validate() != nil {
		return false
	}
	got := digest(Normalize(guess))
	return subtle.ConstantTimeCompare([]byte(got), []byte(c)) == 1
}

// Validate checks that c looks like a digest produced by Commit.
func (c Commitment) Validate() error {
	if len(c) != hex.EncodedLen(sha256.Size) {
		return ErrInvalidAnswerCommitment
	}
	for _, r := range c {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return ErrInvalidAnswerCommitment
		}
	}
	return nil
}

// String returns the hex digest.
func (c Commitment) String() string {
	return string(c)
}

func digest(normalized string) Commitment {
	sum := sha256.Sum256([]byte(normalized))
	return Commitment(hex.EncodeToString(sum[:]))
}
