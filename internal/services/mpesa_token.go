package services

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedKeyType is returned when the provider key is not an RSA public key.
var ErrUnsupportedKeyType = errors.New("public key is not RSA")

// MpesaTokenIssuer builds the per-request bearer token M-Pesa expects: the API key
// encrypted with the M-Pesa public key. Tokens are recomputed on every call.
type MpesaTokenIssuer struct {
	apiKey    string
	publicKey string
}

func NewMpesaTokenIssuer(apiKey, publicKey string) *MpesaTokenIssuer {
	return &MpesaTokenIssuer{apiKey: apiKey, publicKey: publicKey}
}

// AuthorizationHeader returns "Bearer <base64(rsa_pkcs1v15(api key))>".
func (t *MpesaTokenIssuer) AuthorizationHeader() (string, error) {
	if t.apiKey == "" {
		return "", errors.New("mpesa api key is not configured")
	}

	pub, err := parseRSAPublicKey(t.publicKey)
	if err != nil {
		return "", err
	}

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(t.apiKey))
	if err != nil {
		return "", fmt.Errorf("encrypt api key: %w", err)
	}

	return "Bearer " + base64.StdEncoding.EncodeToString(encrypted), nil
}

// parseRSAPublicKey accepts either a full PEM block or the bare base64 body M-Pesa
// hands out in its developer portal.
func parseRSAPublicKey(material string) (*rsa.PublicKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, errors.New("mpesa public key is not configured")
	}
	if !strings.Contains(material, "-----BEGIN") {
		material = "-----BEGIN PUBLIC KEY-----\n" + material + "\n-----END PUBLIC KEY-----"
	}

	block, _ := pem.Decode([]byte(material))
	if block == nil {
		return nil, errors.New("decode public key: no PEM data")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, ErrUnsupportedKeyType
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}
