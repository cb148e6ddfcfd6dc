package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"poolescrow/crypto"
)

type contextKey string

const contextKeyCaller contextKey = "caller"

var errMissingToken = errors.New("missing bearer token")

// Authenticator verifies HS256 bearer tokens whose subject is the bech32
// account the request acts for.
type Authenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewAuthenticator returns nil when secret is empty, which disables the
// authenticated routes.
func NewAuthenticator(secret, issuer string) *Authenticator {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), issuer: strings.TrimSpace(issuer), leeway: 30 * time.Second}
}

// Verify parses raw and returns the caller account carried in its subject.
func (a *Authenticator) Verify(raw string) ([20]byte, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return [20]byte{}, err
	}
	account, err := crypto.ParseAccount(claims.Subject)
	if err != nil {
		return [20]byte{}, fmt.Errorf("subject: %w", err)
	}
	return account, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		caller, err := a.Verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyCaller, caller)))
	})
}

// Issue signs a token for account valid for ttl. Operators use it to hand out
// credentials for local deployments and tests use it to authenticate.
func (a *Authenticator) Issue(account [20]byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   crypto.AccountAddress(account).String(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

func callerFrom(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(contextKeyCaller).([20]byte)
	return caller, ok
}
