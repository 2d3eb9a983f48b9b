package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/qvarn/core/logger"
)

var (
	// Version is the version of the current build
	Version = "unset"
)

// APIVersion is the version of the resource API dialect this service speaks.
const APIVersion = "0.82"

// handleVersion adds the version route. The route requires no authorization.
func (b *Backend) handleVersion(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("version")
	nillog.Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"api": map[string]string{
				"version": APIVersion,
			},
			"implementation": map[string]string{
				"name":    "qvarn",
				"version": Version,
			},
		})
	}).Methods(http.MethodOptions, http.MethodGet)
}
