package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tradeflow/brokerage/internal/config"
	"github.com/tradeflow/brokerage/internal/customer"
)

// ErrInvalidToken is returned for malformed, expired or forged tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims of an access token.
type Claims struct {
	Admin bool `json:"adm"`
	jwt.RegisteredClaims
}

// Token is an issued access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	ExpiresIn   int64
}

// Service logs customers in and verifies their access tokens.
type Service struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	customers *customer.Service
	now       func() time.Time
}

// NewService builds the token service.
func NewService(cfg config.Config, customers *customer.Service) *Service {
	return &Service{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		ttl:       cfg.AccessTokenTTL,
		customers: customers,
		now:       time.Now,
	}
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (Token, customer.Customer, error) {
	c, err := s.customers.Authenticate(ctx, username, password)
	if err != nil {
		return Token{}, customer.Customer{}, err
	}
	tok, err := s.Issue(c)
	if err != nil {
		return Token{}, customer.Customer{}, err
	}
	return tok, c, nil
}

// Issue signs an HS256 access token for c.
func (s *Service) Issue(c customer.Customer) (Token, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Admin: c.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, ExpiresAt: exp, ExpiresIn: int64(s.ttl.Seconds())}, nil
}

// Parse verifies the signature, issuer and expiry of an access token.
func (s *Service) Parse(token string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Principal{CustomerID: claims.Subject, Admin: claims.Admin}, nil
}
