package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims are embedded in locally issued access tokens.
type AccessTokenClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// GenerateAccessToken signs an HS256 token for clientID identified by tokenID.
func GenerateAccessToken(secret, clientID, tokenID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := &AccessTokenClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken verifies the signature and expiry of tokenString against now.
func ParseAccessToken(secret, tokenString string, now func() time.Time) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AccessTokenClaims); ok && token.Valid {
		if claims.ID == "" {
			return nil, errors.New("token has no id")
		}
		return claims, nil
	}

	return nil, jwt.ErrTokenInvalidClaims
}
