package access

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/ssh"

	"github.com/relabs-tech/qvarn/core/logger"
)

// Error is the JSON body returned for failed authentication or authorization.
type Error struct {
	ErrorCode  string `json:"error_code,omitempty"`
	Message    string `json:"message"`
	TokenError string `json:"token_error,omitempty"`
}

func writeError(w http.ResponseWriter, status int, e Error) {
	jsonData, _ := json.Marshal(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonData)
}

func writeInvalidToken(w http.ResponseWriter, tokenError string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeError(w, http.StatusUnauthorized, Error{
		ErrorCode:  "InvalidAccessTokenError",
		Message:    "Access token is invalid: {token_error}",
		TokenError: tokenError,
	})
}

// BearerMiddlewareBuilder is a helper builder for the bearer token middleware
type BearerMiddlewareBuilder struct {
	// Issuer is the accepted issuer for the token
	Issuer string
	// SigningKey is the RSA public key used to verify token signatures,
	// either in PEM or in OpenSSH authorized-keys format.
	SigningKey string
}

// ParseRSAPublicKey parses an RSA public key, either from PEM or from
// OpenSSH authorized-keys format ("ssh-rsa AAAA...").
func ParseRSAPublicKey(data string) (*rsa.PublicKey, error) {
	if strings.HasPrefix(data, "ssh-rsa ") {
		sshKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(data))
		if err != nil {
			return nil, err
		}
		cryptoKey, ok := sshKey.(ssh.CryptoPublicKey)
		if !ok {
			return nil, fmt.Errorf("unsupported key type %s", sshKey.Type())
		}
		rsaKey, ok := cryptoKey.CryptoPublicKey().(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	}
	return jwt.ParseRSAPublicKeyFromPEM([]byte(data))
}

// NewBearerMiddleware returns a middleware handler to validate
// JWT bearer token.
//
// Java-Web-Token (JWT) are accepted as "Authorization: Bearer" header.
// The token must be signed with the configured RSA key and carry the
// configured issuer and a subject. The audience claim is not verified.
// The token's space-separated "scope" claim becomes the scope list of
// the resulting authorization.
//
// Requests without an Authorization header pass through without an
// authorization; routes guarded with CheckScopes reject them. This is a
// final handler with regards to malformed headers and invalid tokens.
func NewBearerMiddleware(bmb *BearerMiddlewareBuilder) mux.MiddlewareFunc {

	key, err := ParseRSAPublicKey(bmb.SigningKey)
	if err != nil {
		panic(fmt.Errorf("cannot parse token signing key: %w", err))
	}

	authCache := NewAuthorizationCache()

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthorizationFromContext(r.Context())
			if auth != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}

			bearer := r.Header.Get("Authorization")
			if len(bearer) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			parts := strings.Fields(bearer)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, http.StatusForbidden, Error{
					ErrorCode: "InvalidAuthorizationHeaderFormat",
					Message:   `Authorization header is in invalid format, should be "Bearer TOKEN"`,
				})
				return
			}
			tokenString := parts[1]

			// look up the authorization for the token string, so we only
			// pay for signature verification once per token
			auth = authCache.Read(tokenString)
			if auth == nil {
				claims := struct {
					Scope string `json:"scope"`
					jwt.RegisteredClaims
				}{}
				token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
						return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
					}
					return key, nil
				})
				if err != nil {
					writeInvalidToken(w, err.Error())
					return
				}
				if !token.Valid {
					writeInvalidToken(w, "token is invalid")
					return
				}
				if claims.Issuer != bmb.Issuer {
					writeInvalidToken(w, fmt.Sprintf("Expected issuer %s, got %s", bmb.Issuer, claims.Issuer))
					return
				}
				if claims.Subject == "" {
					writeInvalidToken(w, "Invalid subject (sub)")
					return
				}
				auth = &Authorization{
					Subject: claims.Subject,
					Scopes:  strings.Fields(claims.Scope),
				}
				authCache.Write(tokenString, auth)
			}

			ctx := ContextWithAuthorization(r.Context(), auth)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Subject)
			r = r.WithContext(ctx)
			h.ServeHTTP(w, r)
		})
	}
}
