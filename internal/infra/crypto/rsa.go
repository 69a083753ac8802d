// Package crypto holds the asymmetric encryption capability. Site owners
// encrypt secrets with the server's public key before committing them to
// their repository; the server decrypts them at config resolution.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/pkg/errors"
)

type RSA struct {
	key *rsa.PrivateKey
}

// NewRSA parses a PEM-encoded private key (PKCS#1 or PKCS#8).
func NewRSA(privateKeyPEM string) (*RSA, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &RSA{key: key}, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return &RSA{key: key}, nil
}

// Encrypt returns the OAEP ciphertext, base64-encoded the way it is stored
// in site config files.
func (r *RSA) Encrypt(plaintext string) (string, error) {
	ciphertext, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, &r.key.PublicKey, []byte(plaintext), nil)
	if err != nil {
		return "", errors.Wrap(err, "encrypting value")
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (r *RSA) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "decoding ciphertext")
	}
	plaintext, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, r.key, raw, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypting value")
	}
	return string(plaintext), nil
}
