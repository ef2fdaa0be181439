package search

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/query"
)

// tokenClaims carries a compiled query inside a signed pagination token.
type tokenClaims struct {
	Query query.QueryInfo `json:"query"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies pagination tokens. Tokens are opaque to
// clients; tampering or a foreign secret yields an invalid-token error.
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec creates a codec with the given HMAC secret.
func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret)}
}

// Encode signs a QueryInfo into a pagination token.
func (c *TokenCodec) Encode(qi query.QueryInfo) (string, error) {
	claims := tokenClaims{
		Query: qi,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Decode verifies a pagination token and returns the embedded QueryInfo.
func (c *TokenCodec) Decode(tokenString string) (query.QueryInfo, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return query.QueryInfo{}, apperrors.NewInvalidToken(err)
	}
	return claims.Query, nil
}
