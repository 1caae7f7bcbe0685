package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SubjectKDFIterations is the PBKDF2-HMAC-SHA256 work factor for subject-derived keys.
	SubjectKDFIterations = 210_000
	// SaltSize is the size of the random salt stored next to subject-encrypted data.
	SaltSize = 16
)

var ErrEmptySubject = errors.New("subject must not be empty")

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveSubjectKey derives a 32-byte symmetric key from a stable principal subject and salt.
// The same subject and salt always yield the same key.
func DeriveSubjectKey(subject string, salt []byte) ([]byte, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes", SaltSize)
	}
	return pbkdf2.Key([]byte(subject), salt, SubjectKDFIterations, KeySize, sha256.New), nil
}
