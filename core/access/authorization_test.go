package access

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/ssh"
)

func TestAuthorization_HasScope(t *testing.T) {

	auth := &Authorization{
		Subject: "test-client",
		Scopes:  []string{"uapi_orgs_get", "uapi_orgs_post"},
	}

	if !auth.HasScope("uapi_orgs_get") {
		t.Fatal("scope not found")
	}
	if auth.HasScope("uapi_orgs_id_delete") {
		t.Fatal("scope should not be found")
	}
	if !auth.HasScopes("uapi_orgs_get", "uapi_orgs_post") {
		t.Fatal("scopes not found")
	}
	if auth.HasScopes("uapi_orgs_get", "uapi_orgs_id_delete") {
		t.Fatal("scopes should not be found")
	}

	// now try without any authorization
	auth = nil
	if auth.HasScope("uapi_orgs_get") {
		t.Fatal("nil authorization should not have scopes")
	}
	if !auth.HasScopes() {
		t.Fatal("empty scope requirement should always pass")
	}
}

func TestCheckScopes(t *testing.T) {

	handler := CheckScopes(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, "uapi_orgs_get")

	// no authorization at all
	r := httptest.NewRequest(http.MethodGet, "/orgs", nil)
	w := httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	var e Error
	json.Unmarshal(w.Body.Bytes(), &e)
	if e.ErrorCode != "AuthorizationHeaderMissing" {
		t.Fatalf("unexpected error code %s", e.ErrorCode)
	}

	// authorization without the required scope
	auth := &Authorization{Subject: "test-client", Scopes: []string{"uapi_persons_get"}}
	r = httptest.NewRequest(http.MethodGet, "/orgs", nil)
	r = r.WithContext(ContextWithAuthorization(r.Context(), auth))
	w = httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	// authorization with the required scope
	auth = &Authorization{Subject: "test-client", Scopes: []string{"uapi_orgs_get"}}
	r = httptest.NewRequest(http.MethodGet, "/orgs", nil)
	r = r.WithContext(ContextWithAuthorization(r.Context(), auth))
	w = httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	// OpenSSH authorized-keys format
	sshKey, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseRSAPublicKey(string(ssh.MarshalAuthorizedKey(sshKey)))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.N.Cmp(key.PublicKey.N) != 0 {
		t.Fatal("parsed ssh key does not match")
	}

	// PEM format
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	parsed, err = ParseRSAPublicKey(string(pemKey))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.N.Cmp(key.PublicKey.N) != 0 {
		t.Fatal("parsed pem key does not match")
	}

	if _, err = ParseRSAPublicKey("not a key"); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestBearerMiddleware(t *testing.T) {
	const issuer = "https://auth.example.com"

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	sshKey, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	var captured *Authorization
	router := mux.NewRouter()
	router.Use(NewBearerMiddleware(&BearerMiddlewareBuilder{
		Issuer:     issuer,
		SigningKey: string(ssh.MarshalAuthorizedKey(sshKey)),
	}))
	router.HandleFunc("/orgs", CheckScopes(func(w http.ResponseWriter, r *http.Request) {
		captured = AuthorizationFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}, "uapi_orgs_get")).Methods(http.MethodGet)

	do := func(authorization string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/orgs", nil)
		if authorization != "" {
			r.Header.Set("Authorization", authorization)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	sign := func(claims jwt.MapClaims) string {
		tokenString, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return tokenString
	}

	decodeError := func(w *httptest.ResponseRecorder) Error {
		var e Error
		if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
			t.Fatal(err)
		}
		return e
	}

	// missing header
	w := do("")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if e := decodeError(w); e.ErrorCode != "AuthorizationHeaderMissing" {
		t.Fatalf("unexpected error code %s", e.ErrorCode)
	}

	// not a bearer token
	w = do("Basic dXNlcjpzZWNyZXQ=")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if e := decodeError(w); e.ErrorCode != "InvalidAuthorizationHeaderFormat" {
		t.Fatalf("unexpected error code %s", e.ErrorCode)
	}

	// garbage token
	w = do("Bearer garbage")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if h := w.Header().Get("WWW-Authenticate"); h != `Bearer error="invalid_token"` {
		t.Fatalf("unexpected WWW-Authenticate header %s", h)
	}
	if e := decodeError(w); e.ErrorCode != "InvalidAccessTokenError" {
		t.Fatalf("unexpected error code %s", e.ErrorCode)
	}

	// wrong issuer
	w = do("Bearer " + sign(jwt.MapClaims{
		"iss":   "https://somebody.else",
		"sub":   "test-client",
		"scope": "uapi_orgs_get",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if e := decodeError(w); e.TokenError != "Expected issuer https://auth.example.com, got https://somebody.else" {
		t.Fatalf("unexpected token error %s", e.TokenError)
	}

	// missing subject
	w = do("Bearer " + sign(jwt.MapClaims{
		"iss":   issuer,
		"scope": "uapi_orgs_get",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if e := decodeError(w); e.TokenError != "Invalid subject (sub)" {
		t.Fatalf("unexpected token error %s", e.TokenError)
	}

	// expired token
	w = do("Bearer " + sign(jwt.MapClaims{
		"iss":   issuer,
		"sub":   "test-client",
		"scope": "uapi_orgs_get",
		"exp":   time.Now().Add(-time.Hour).Unix(),
	}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	// valid token, but insufficient scopes
	w = do("Bearer " + sign(jwt.MapClaims{
		"iss":   issuer,
		"sub":   "test-client",
		"scope": "uapi_persons_get uapi_persons_post",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	// valid token
	w = do("Bearer " + sign(jwt.MapClaims{
		"iss":   issuer,
		"sub":   "test-client",
		"scope": "uapi_orgs_get uapi_orgs_post",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if captured == nil || captured.Subject != "test-client" {
		t.Fatalf("unexpected authorization %v", captured)
	}
	if !captured.HasScopes("uapi_orgs_get", "uapi_orgs_post") {
		t.Fatal("scopes not carried over from token")
	}
}
