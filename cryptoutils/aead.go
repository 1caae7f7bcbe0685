package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/identity-custody-backend/interfaces"
)

const (
	// KeySize is the symmetric key size (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce size.
	NonceSize = 12
	// TagSize is the GCM authentication tag size.
	TagSize = 16
)

var ErrInvalidKeySize = errors.New("symmetric key must be 32 bytes")

// NewDEK returns a fresh random data encryption key.
func NewDEK() ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}
	return dek, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// SymmetricEncrypt encrypts plaintext with AES-256-GCM under key using a fresh random nonce.
//
// Format: [nonce (12 bytes)][auth tag (16 bytes)][ciphertext]
func SymmetricEncrypt(plaintext, key []byte) (interfaces.EncryptedBlob, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext
	sealed := aesGCM.Seal(nil, nonce, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	result := make([]byte, 0, NonceSize+TagSize+len(ciphertext))
	result = append(result, nonce...)
	result = append(result, tag...)
	result = append(result, ciphertext...)
	return result, nil
}

// SymmetricDecrypt is the inverse of SymmetricEncrypt. Any tag mismatch or malformed
// input yields ErrAuthenticationFailed.
func SymmetricDecrypt(blob interfaces.EncryptedBlob, key []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: ciphertext too short", interfaces.ErrAuthenticationFailed)
	}

	nonce := blob[:NonceSize]
	tag := blob[NonceSize : NonceSize+TagSize]
	ciphertext := blob[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aesGCM.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, interfaces.ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
