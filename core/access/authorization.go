// Package access checks bearer tokens and enforces scopes on routes.
package access

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/qvarn/core/logger"
)

// contextKey keeps the context keys of this package to itself
type contextKey string

const (
	contextKeyAuthorization contextKey = "_authorization_"
)

/*Authorization is a context object which stores the authenticated caller
of a request.

An authorization carries the token subject and the list of scopes granted
by the token. Scopes gate individual routes: a route for a resource type
"org" with path "/orgs" requires scopes like "uapi_orgs_get" or
"uapi_orgs_id_put".

Authorizations are added to a request context with

  ctx = access.ContextWithAuthorization(ctx, auth)

and retrieved with

  auth := access.AuthorizationFromContext(ctx)

Authorization objects are added to the context by the bearer token
middleware, based on the JWT access token in the HTTP request.
*/
type Authorization struct {
	Subject string   `json:"subject,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

// HasScope returns true if the authorization contains the requested scope;
// otherwise it returns false.
func (a *Authorization) HasScope(scope string) bool {
	if a == nil {
		return false
	}
	for _, hasScope := range a.Scopes {
		if scope == hasScope {
			return true
		}
	}
	return false
}

// HasScopes returns true if the authorization contains all requested scopes.
func (a *Authorization) HasScopes(scopes ...string) bool {
	for _, scope := range scopes {
		if !a.HasScope(scope) {
			return false
		}
	}
	return true
}

// ContextWithAuthorization returns a new context with the authorization added to it
func ContextWithAuthorization(ctx context.Context, a *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// Authorized enforces scopes for a single request.
//
// The request must carry an authorization holding all required scopes.
// Without any authorization it responds 401, with an authorization lacking
// a scope it responds 403, and returns false. It returns true when the
// request may proceed.
func Authorized(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	auth := AuthorizationFromContext(r.Context())
	if auth == nil {
		writeError(w, http.StatusUnauthorized, Error{
			ErrorCode: "AuthorizationHeaderMissing",
			Message:   "Authorization header is missing",
		})
		return false
	}
	if !auth.HasScopes(scopes...) {
		writeError(w, http.StatusForbidden, Error{Message: "Forbidden"})
		return false
	}
	return true
}

// CheckScopes wraps a handler with scope enforcement, see Authorized.
func CheckScopes(h http.HandlerFunc, scopes ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !Authorized(w, r, scopes...) {
			return
		}
		h(w, r)
	}
}

// AuthorizationCache caches authorizations by bearer token, so the middleware
// does not parse and verify the same token signature for every single
// request.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns the authorization cached for the given bearer token, or nil.
// Safe for concurrent use.
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	auth, ok := a.cache[token]
	a.mutex.RUnlock()
	if ok {
		return auth
	}
	return nil
}

// Write caches the authorization derived from the given bearer token.
// Safe for concurrent use.
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}

// HandleAuthorizationRoute adds the route /authorization GET to the router.
// The route answers with the authorization derived from the request's bearer
// token, or 204 if the request carries none. Useful for debugging tokens.
func HandleAuthorizationRoute(router *mux.Router) {
	rlog := logger.Default()
	rlog.Infoln("authorization")
	rlog.Infoln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
		} else {
			jsonData, _ := json.MarshalIndent(auth, "", " ")
			w.Header().Set("Content-Type", "application/json")
			w.Write(jsonData)
		}
	}).Methods(http.MethodGet)
}
