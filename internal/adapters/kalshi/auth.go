package kalshi

// auth.go — Kalshi request signing.
//
// Every request carries an RSA-PSS signature over
// timestamp_ms + METHOD + path (query string excluded), plus the API key id
// and the timestamp, in the KALSHI-ACCESS-* headers.

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Credentials holds the API key id and the RSA private key used for signing.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// LoadCredentials loads signing credentials from a key id and a PEM file.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("kalshi: API key id is required")
	}
	key, err := loadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("kalshi: load private key: %w", err)
	}
	return &Credentials{KeyID: keyID, PrivateKey: key}, nil
}

// loadPrivateKey reads an RSA private key in PKCS#8 or PKCS#1 PEM form.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %q", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not RSA")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// SignRequest returns the auth headers for one request. The signature covers
// the path without its query string.
func (c *Credentials) SignRequest(method, path string) (map[string]string, error) {
	ts := time.Now().UnixMilli()

	sigPath := path
	if i := strings.IndexByte(sigPath, '?'); i >= 0 {
		sigPath = sigPath[:i]
	}

	sig, err := c.sign(strconv.FormatInt(ts, 10) + method + sigPath)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       c.KeyID,
		"KALSHI-ACCESS-TIMESTAMP": strconv.FormatInt(ts, 10),
		"KALSHI-ACCESS-SIGNATURE": sig,
	}, nil
}

func (c *Credentials) sign(message string) (string, error) {
	hashed := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, c.PrivateKey, crypto.SHA256, hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
