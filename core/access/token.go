// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/qvarn/core/logger"
)

// HandleAuthTokenRoute adds a route /auth/token POST to the router.
//
// The route is a simple proxy to the OpenID provider of the given issuer:
// it resolves the provider's token endpoint from the well-known
// configuration and forwards the request body together with the
// Authorization and Content-Type headers. The provider's response is
// relayed unchanged.
//
// Example:
//
//	http -f -a user:secret post /auth/token grant_type=client_credentials scope=uapi_persons_get
func HandleAuthTokenRoute(router *mux.Router, issuer string) {
	rlog := logger.Default()
	rlog.Infoln("auth token proxy for issuer", issuer)
	rlog.Infoln("  handle route: /auth/token POST")

	configurationURL := strings.TrimSuffix(issuer, "/") + "/oxauth/.well-known/openid-configuration"

	router.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())

		res, err := http.Get(configurationURL)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4731: cannot load openid configuration from", configurationURL)
			http.Error(w, "Error 4731", http.StatusInternalServerError)
			return
		}
		defer res.Body.Close()
		var configuration struct {
			TokenEndpoint string `json:"token_endpoint"`
		}
		if err := json.NewDecoder(res.Body).Decode(&configuration); err != nil {
			rlog.WithError(err).Errorln("Error 4732: cannot decode openid configuration")
			http.Error(w, "Error 4732", http.StatusInternalServerError)
			return
		}

		req, err := http.NewRequest(http.MethodPost, configuration.TokenEndpoint, r.Body)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4733: cannot create token request")
			http.Error(w, "Error 4733", http.StatusInternalServerError)
			return
		}
		req.Header.Set("Authorization", r.Header.Get("Authorization"))
		req.Header.Set("Content-Type", r.Header.Get("Content-Type"))

		tokenRes, err := http.DefaultClient.Do(req)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4734: token endpoint request failed")
			http.Error(w, "Error 4734", http.StatusInternalServerError)
			return
		}
		defer tokenRes.Body.Close()

		w.Header().Set("Content-Type", tokenRes.Header.Get("Content-Type"))
		w.WriteHeader(tokenRes.StatusCode)
		io.Copy(w, tokenRes.Body)
	}).Methods(http.MethodPost)
}
