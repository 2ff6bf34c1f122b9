// Package crypto provides encryption and decryption for provider credentials
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	saltSize = 16
	keySize  = 32 // AES-256

	// scrypt parameters
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var (
	// ErrEmptySecret is returned when the server secret is missing
	ErrEmptySecret = errors.New("server secret must not be empty")

	// ErrInvalidCiphertext is returned when the ciphertext blob is malformed
	ErrInvalidCiphertext = errors.New("invalid ciphertext: malformed blob")

	// ErrDecryptionFailed is returned when the GCM authentication tag check
	// fails. This signals tampering or a secret rotation mismatch; the
	// affected provider must be skipped, not retried.
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
)

// EncryptionService encrypts credentials with AES-256-GCM using a key
// derived via scrypt from a server-side secret and a per-record salt.
type EncryptionService struct {
	secret []byte
}

// NewEncryptionService creates an encryption service from the server secret
func NewEncryptionService(secret string) (*EncryptionService, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &EncryptionService{secret: []byte(secret)}, nil
}

// deriveKey stretches the server secret with the given salt into an AES-256 key
func (s *EncryptionService) deriveKey(salt []byte) ([]byte, error) {
	return scrypt.Key(s.secret, salt, scryptN, scryptR, scryptP, keySize)
}

// Encrypt encrypts plaintext and returns a base64 blob plus its base64 salt.
// The salt is freshly random per call; the blob layout is IV || authTag || ciphertext.
func (s *EncryptionService) Encrypt(plaintext string) (ciphertext, salt string, err error) {
	saltBytes := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, saltBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := s.aead(saltBytes)
	if err != nil {
		return "", "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	encrypted, tag := sealed[:tagStart], sealed[tagStart:]

	blob := make([]byte, 0, len(iv)+len(tag)+len(encrypted))
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, encrypted...)

	return base64.StdEncoding.EncodeToString(blob),
		base64.StdEncoding.EncodeToString(saltBytes),
		nil
}

// Decrypt re-derives the key from the stored salt, verifies the GCM
// authentication tag, and returns the plaintext.
func (s *EncryptionService) Decrypt(ciphertext, salt string) (string, error) {
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("failed to decode salt: %w", err)
	}

	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	gcm, err := s.aead(saltBytes)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	tagSize := gcm.Overhead()
	if len(blob) < nonceSize+tagSize {
		return "", ErrInvalidCiphertext
	}

	iv := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	encrypted := blob[nonceSize+tagSize:]

	// Reassemble into the ciphertext||tag layout gcm.Open expects
	sealed := make([]byte, 0, len(encrypted)+len(tag))
	sealed = append(sealed, encrypted...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// aead builds the AES-GCM cipher for the key derived from salt
func (s *EncryptionService) aead(salt []byte) (cipher.AEAD, error) {
	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
