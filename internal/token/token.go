// Package token issues and verifies the portable bearer tokens that carry an
// in-progress transaction between start and confirm. The token is the
// session: no server-side state exists between the two calls.
package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mocoin/domain/internal/clock"
	"github.com/mocoin/domain/internal/domain"
)

// Signer signs and verifies transaction tokens with a shared HMAC secret.
// The secret and issuer are injected at construction; nothing here reads the
// environment.
type Signer struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewSigner(secret []byte, issuer string, clk clock.Clock) *Signer {
	return &Signer{secret: secret, issuer: issuer, clock: clk}
}

type transactionClaims struct {
	jwt.RegisteredClaims
	Transaction domain.Transaction `json:"transaction"`
}

// Sign wraps the transaction in a compact signed token expiring together
// with the transaction itself.
func (s *Signer) Sign(tx domain.Transaction) (string, error) {
	now := s.clock.Now()
	claims := transactionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   tx.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(tx.Expires),
		},
		Transaction: tx,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", domain.NewServiceUnavailableError("sign transaction token: " + err.Error())
	}
	return signed, nil
}

// Verify validates signature, issuer and expiry, and reconstructs the
// embedded transaction. Invalid or expired tokens are an Unauthorized-class
// failure regardless of the underlying cause.
func (s *Signer) Verify(tokenString string) (domain.Transaction, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.clock.Now),
	)

	claims := &transactionClaims{}
	parsed, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Transaction{}, domain.NewUnauthorizedError("transaction token expired")
		}
		return domain.Transaction{}, domain.NewUnauthorizedError("invalid transaction token")
	}
	if !parsed.Valid {
		return domain.Transaction{}, domain.NewUnauthorizedError("invalid transaction token")
	}
	return claims.Transaction, nil
}
