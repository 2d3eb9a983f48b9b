// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/qvarn/core/logger"
)

// handleResourceRoutes installs the REST routes for resource collections.
// The routes are generic, the resource type is resolved per request from the
// path so that unknown types produce the canonical 404 body after the scope
// check. Listener routes must be installed before these, the literal
// "listeners" segment would otherwise be captured as an item id.
func (b *Backend) handleResourceRoutes(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("backend: resource collections")
	nillog.Debugln("  handle route: /{resource_type}/search/{condition} GET")
	nillog.Debugln("  handle route: /{resource_type} GET,POST")
	nillog.Debugln("  handle route: /{resource_type}/{id} GET,PUT,DELETE")
	nillog.Debugln("  handle route: /{resource_type}/{id}/{subpath} GET,PUT")

	resolve := func(w http.ResponseWriter, path string) *resourceType {
		rt, ok := b.typesByPath[path]
		if !ok {
			writeResourceTypeNotFound(w, path)
			return nil
		}
		return rt
	}

	decodeBody := func(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
		var doc map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
			return nil, false
		}
		return doc, true
	}

	list := func(w http.ResponseWriter, r *http.Request) {
		path := mux.Vars(r)["resource_type"]
		if !b.authorized(w, r, "uapi_"+path+"_get") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		ids, err := b.listDocuments(rt)
		if err != nil {
			writeStoreError(w, r, err, "")
			return
		}
		resources := make([]map[string]interface{}, 0, len(ids))
		for _, id := range ids {
			resources = append(resources, map[string]interface{}{"id": id})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"resources": resources})
	}

	create := func(w http.ResponseWriter, r *http.Request) {
		path := mux.Vars(r)["resource_type"]
		if !b.authorized(w, r, "uapi_"+path+"_post") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		doc, ok := decodeBody(w, r)
		if !ok {
			return
		}
		response, err := b.createDocument(r.Context(), rt, doc)
		if err != nil {
			writeStoreError(w, r, err, "")
			return
		}
		w.Header().Set("Location", "/"+path+"/"+response["id"].(string))
		writeJSON(w, http.StatusCreated, response)
	}

	read := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, id := params["resource_type"], params["id"]
		if !b.authorized(w, r, "uapi_"+path+"_id_get") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		if !validID(rt.name, id) {
			writeItemNotFound(w, id)
			return
		}
		doc, err := b.readDocument(rt, id)
		if err != nil {
			writeStoreError(w, r, err, id)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}

	update := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, id := params["resource_type"], params["id"]
		if !b.authorized(w, r, "uapi_"+path+"_id_put") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		if !validID(rt.name, id) {
			writeItemNotFound(w, id)
			return
		}
		doc, ok := decodeBody(w, r)
		if !ok {
			return
		}
		revision, _ := doc["revision"].(string)
		response, err := b.updateDocument(r.Context(), rt, id, revision, doc)
		if err != nil {
			writeStoreError(w, r, err, id)
			return
		}
		writeJSON(w, http.StatusOK, response)
	}

	remove := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, id := params["resource_type"], params["id"]
		if !b.authorized(w, r, "uapi_"+path+"_id_delete") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		if !validID(rt.name, id) {
			writeItemNotFound(w, id)
			return
		}
		if err := b.deleteDocument(r.Context(), rt, id); err != nil {
			writeStoreError(w, r, err, id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	}

	search := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path := params["resource_type"]
		if !b.authorized(w, r, "uapi_"+path+"_search_id_get") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		result, err := b.searchDocuments(rt, params["condition"])
		if err != nil {
			writeStoreError(w, r, err, "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"resources": result})
	}

	readSubpath := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, id, subpath := params["resource_type"], params["id"], params["subpath"]
		if !b.authorized(w, r, "uapi_"+path+"_"+subpath+"_id_get") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		if !validID(rt.name, id) {
			writeItemNotFound(w, id)
			return
		}
		if rt.files[subpath] {
			blob, contentType, revision, err := b.readFile(rt, id, subpath)
			if err != nil {
				writeStoreError(w, r, err, id)
				return
			}
			if contentType != "" {
				w.Header().Set("Content-Type", contentType)
			}
			w.Header().Set("Revision", revision)
			w.Write(blob)
			return
		}
		if !rt.hasSubpath(subpath) {
			writeResourceTypeNotFound(w, path+"/"+subpath)
			return
		}
		doc, err := b.readSubpathDocument(rt, id, subpath)
		if err != nil {
			writeStoreError(w, r, err, id)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}

	updateSubpath := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, id, subpath := params["resource_type"], params["id"], params["subpath"]
		if !b.authorized(w, r, "uapi_"+path+"_"+subpath+"_id_put") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		if !validID(rt.name, id) {
			writeItemNotFound(w, id)
			return
		}
		if rt.files[subpath] {
			blob, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "cannot read request body: "+err.Error(), http.StatusBadRequest)
				return
			}
			response, err := b.updateFile(r.Context(), rt, id, subpath,
				r.Header.Get("Revision"), r.Header.Get("Content-Type"), blob)
			if err != nil {
				writeStoreError(w, r, err, id)
				return
			}
			writeJSON(w, http.StatusOK, response)
			return
		}
		if !rt.hasSubpath(subpath) {
			writeResourceTypeNotFound(w, path+"/"+subpath)
			return
		}
		doc, ok := decodeBody(w, r)
		if !ok {
			return
		}
		revision, _ := doc["revision"].(string)
		response, err := b.updateSubpathDocument(r.Context(), rt, id, subpath, revision, doc)
		if err != nil {
			writeStoreError(w, r, err, id)
			return
		}
		writeJSON(w, http.StatusOK, response)
	}

	router.HandleFunc("/{resource_type}/search/{condition:.*}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		search(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/{resource_type}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		list(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/{resource_type}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		create(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/{resource_type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		read(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/{resource_type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		update(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)

	router.HandleFunc("/{resource_type}/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		remove(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)

	router.HandleFunc("/{resource_type}/{id}/{subpath}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		readSubpath(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/{resource_type}/{id}/{subpath}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		updateSubpath(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)
}
