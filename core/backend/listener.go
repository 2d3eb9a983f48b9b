package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/qvarn/core/csql"
	"github.com/relabs-tech/qvarn/core/logger"
)

// Listeners are stored in one shared table, discriminated by the resource
// type they listen on. They use the same storage layout as user-defined
// resources but never write change records themselves.

// shapeListener turns stored listener data into a response document.
// listen_on is always present, the notify booleans only when the client
// sent them.
func shapeListener(doc map[string]interface{}, id, revision string) map[string]interface{} {
	if _, ok := doc["listen_on"]; !ok {
		doc["listen_on"] = []interface{}{}
	}
	doc["id"] = id
	doc["revision"] = revision
	doc["type"] = "listener"
	return doc
}

func (b *Backend) createListener(ctx context.Context, rt *resourceType, doc map[string]interface{}) (map[string]interface{}, error) {
	doc, err := validated(b.listenerType.version.Prototype, doc)
	if err != nil {
		return nil, err
	}
	id := newID(b.listenerType.name)
	revision := newID(b.listenerType.name)
	searchJSON, err := json.Marshal(flattenForGin(doc))
	if err != nil {
		return nil, err
	}
	dataJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s."%s"(id, revision, search, data, listen_on_type) VALUES($1,$2,$3,$4,$5);`,
			b.db.Schema, b.listenerType.table), id, revision, string(searchJSON), string(dataJSON), rt.name)
		if err != nil {
			return err
		}
		return b.insertAuxRows(tx, b.listenerType, id, flattenForLists(doc))
	})
	if err != nil {
		return nil, err
	}
	return shapeListener(doc, id, revision), nil
}

func (b *Backend) readListener(rt *resourceType, id string) (map[string]interface{}, error) {
	var revision, dataJSON string
	err := b.db.QueryRow(fmt.Sprintf(`SELECT revision, data FROM %s."%s" WHERE id = $1 AND listen_on_type = $2;`,
		b.db.Schema, b.listenerType.table), id, rt.name).Scan(&revision, &dataJSON)
	if err == csql.ErrNoRows {
		return nil, errItemDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(dataJSON), &doc); err != nil {
		return nil, err
	}
	return shapeListener(doc, id, revision), nil
}

func (b *Backend) listListeners(rt *resourceType) ([]string, error) {
	rows, err := b.db.Query(fmt.Sprintf(`SELECT id FROM %s."%s" WHERE listen_on_type = $1 ORDER BY id;`,
		b.db.Schema, b.listenerType.table), rt.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *Backend) updateListener(ctx context.Context, rt *resourceType, id, revision string, doc map[string]interface{}) (map[string]interface{}, error) {
	doc, err := validated(b.listenerType.version.Prototype, doc)
	if err != nil {
		return nil, err
	}
	newRevision := newID(b.listenerType.name)
	dataJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(fmt.Sprintf(`UPDATE %s."%s" SET revision = $1, data = $2 `+
			`WHERE id = $3 AND revision = $4 AND listen_on_type = $5;`,
			b.db.Schema, b.listenerType.table), newRevision, string(dataJSON), id, revision, rt.name)
		if err != nil {
			return err
		}
		count, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if count == 0 {
			var current string
			err := tx.QueryRow(fmt.Sprintf(`SELECT revision FROM %s."%s" WHERE id = $1 AND listen_on_type = $2;`,
				b.db.Schema, b.listenerType.table), id, rt.name).Scan(&current)
			if err == csql.ErrNoRows {
				return errItemDoesNotExist
			}
			if err != nil {
				return err
			}
			return wrongRevisionError{current: current, update: revision}
		}
		return b.rebuildSearch(tx, b.listenerType, id)
	})
	if err != nil {
		return nil, err
	}
	return shapeListener(doc, id, newRevision), nil
}

func (b *Backend) deleteListener(ctx context.Context, rt *resourceType, id string) error {
	result, err := b.db.Exec(fmt.Sprintf(`DELETE FROM %s."%s" WHERE id = $1 AND listen_on_type = $2;`,
		b.db.Schema, b.listenerType.table), id, rt.name)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return errItemDoesNotExist
	}
	return nil
}

func (b *Backend) listenerExists(rt *resourceType, id string) (bool, error) {
	var one int
	err := b.db.QueryRow(fmt.Sprintf(`SELECT 1 FROM %s."%s" WHERE id = $1 AND listen_on_type = $2;`,
		b.db.Schema, b.listenerType.table), id, rt.name).Scan(&one)
	if err == csql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// listNotifications returns the pending change ids for a listener, oldest
// first.
func (b *Backend) listNotifications(rt *resourceType, listenerID string) ([]string, error) {
	rows, err := b.db.Query(fmt.Sprintf(`SELECT id FROM %s."%s" WHERE $1 = ANY(listeners) ORDER BY timestamp;`,
		b.db.Schema, rt.changesTable), listenerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *Backend) readNotification(rt *resourceType, listenerID, notificationID string) (map[string]interface{}, error) {
	var resourceID, changeType string
	var resourceRevision sql.NullString
	err := b.db.QueryRow(fmt.Sprintf(`SELECT resource_id, resource_revision, change_type FROM %s."%s" `+
		`WHERE id = $1 AND $2 = ANY(listeners);`,
		b.db.Schema, rt.changesTable), notificationID, listenerID).Scan(&resourceID, &resourceRevision, &changeType)
	if err == csql.ErrNoRows {
		return nil, errItemDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	var revision interface{}
	if resourceRevision.Valid {
		revision = resourceRevision.String
	}
	return map[string]interface{}{
		"type":              "notification",
		"id":                notificationID,
		"revision":          notificationID,
		"resource_id":       resourceID,
		"resource_revision": revision,
		"resource_change":   changeType,
	}, nil
}

// deleteNotification acknowledges one notification for one listener. The
// change record itself stays, other listeners keep their copy.
func (b *Backend) deleteNotification(rt *resourceType, listenerID, notificationID string) error {
	result, err := b.db.Exec(fmt.Sprintf(`UPDATE %s."%s" SET listeners = array_remove(listeners, $1) `+
		`WHERE id = $2 AND $1 = ANY(listeners);`,
		b.db.Schema, rt.changesTable), listenerID, notificationID)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return errItemDoesNotExist
	}
	return nil
}

// handleListenerRoutes installs the listener and notification routes. These
// must be installed before the generic resource routes so that the literal
// "listeners" segment is not captured as an item id.
func (b *Backend) handleListenerRoutes(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("backend: listeners and notifications")
	nillog.Debugln("  handle route: /{resource_type}/listeners GET,POST")
	nillog.Debugln("  handle route: /{resource_type}/listeners/{listener_id} GET,PUT,DELETE")
	nillog.Debugln("  handle route: /{resource_type}/listeners/{listener_id}/notifications GET")
	nillog.Debugln("  handle route: /{resource_type}/listeners/{listener_id}/notifications/{notification_id} GET,DELETE")

	resolve := func(w http.ResponseWriter, path string) *resourceType {
		rt, ok := b.typesByPath[path]
		if !ok {
			writeResourceTypeNotFound(w, path+"/listeners")
			return nil
		}
		return rt
	}

	// resolveWithListener guards the notification routes. A missing type and
	// a missing listener produce the same 404 body there.
	resolveWithListener := func(w http.ResponseWriter, r *http.Request, path, listenerID string) *resourceType {
		notFound := func() {
			writeResourceTypeNotFound(w, path+"/listeners/"+listenerID+"/notifications")
		}
		rt, ok := b.typesByPath[path]
		if !ok {
			notFound()
			return nil
		}
		exists, err := b.listenerExists(rt, listenerID)
		if err != nil {
			writeStoreError(w, r, err, listenerID)
			return nil
		}
		if !exists {
			notFound()
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
		if !b.authorized(w, r, "uapi_"+path+"_listeners_get") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		ids, err := b.listListeners(rt)
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
		if !b.authorized(w, r, "uapi_"+path+"_listeners_post") {
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
		response, err := b.createListener(r.Context(), rt, doc)
		if err != nil {
			writeStoreError(w, r, err, "")
			return
		}
		w.Header().Set("Location", "/"+path+"/listeners/"+response["id"].(string))
		writeJSON(w, http.StatusCreated, response)
	}

	read := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, listenerID := params["resource_type"], params["listener_id"]
		if !b.authorized(w, r, "uapi_"+path+"_listeners_id_get") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		if !validID(b.listenerType.name, listenerID) {
			writeItemNotFound(w, listenerID)
			return
		}
		doc, err := b.readListener(rt, listenerID)
		if err != nil {
			writeStoreError(w, r, err, listenerID)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}

	update := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, listenerID := params["resource_type"], params["listener_id"]
		if !b.authorized(w, r, "uapi_"+path+"_listeners_id_put") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		if !validID(b.listenerType.name, listenerID) {
			writeItemNotFound(w, listenerID)
			return
		}
		doc, ok := decodeBody(w, r)
		if !ok {
			return
		}
		revision, _ := doc["revision"].(string)
		response, err := b.updateListener(r.Context(), rt, listenerID, revision, doc)
		if err != nil {
			writeStoreError(w, r, err, listenerID)
			return
		}
		writeJSON(w, http.StatusOK, response)
	}

	remove := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, listenerID := params["resource_type"], params["listener_id"]
		if !b.authorized(w, r, "uapi_"+path+"_listeners_id_delete") {
			return
		}
		rt := resolve(w, path)
		if rt == nil {
			return
		}
		if !validID(b.listenerType.name, listenerID) {
			writeItemNotFound(w, listenerID)
			return
		}
		if err := b.deleteListener(r.Context(), rt, listenerID); err != nil {
			writeStoreError(w, r, err, listenerID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	}

	listNotifications := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, listenerID := params["resource_type"], params["listener_id"]
		if !b.authorized(w, r, "uapi_"+path+"_listeners_id_notifications_get") {
			return
		}
		rt := resolveWithListener(w, r, path, listenerID)
		if rt == nil {
			return
		}
		ids, err := b.listNotifications(rt, listenerID)
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

	readNotification := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, listenerID, notificationID := params["resource_type"], params["listener_id"], params["notification_id"]
		if !b.authorized(w, r, "uapi_"+path+"_listeners_id_notifications_id_get") {
			return
		}
		rt := resolveWithListener(w, r, path, listenerID)
		if rt == nil {
			return
		}
		if !validID(rt.name, notificationID) {
			writeNotificationNotFound(w, listenerID, notificationID)
			return
		}
		doc, err := b.readNotification(rt, listenerID, notificationID)
		if errors.Is(err, errItemDoesNotExist) {
			writeNotificationNotFound(w, listenerID, notificationID)
			return
		}
		if err != nil {
			writeStoreError(w, r, err, notificationID)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}

	removeNotification := func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		path, listenerID, notificationID := params["resource_type"], params["listener_id"], params["notification_id"]
		if !b.authorized(w, r, "uapi_"+path+"_listeners_id_notifications_id_delete") {
			return
		}
		rt := resolveWithListener(w, r, path, listenerID)
		if rt == nil {
			return
		}
		if !validID(rt.name, notificationID) {
			writeNotificationNotFound(w, listenerID, notificationID)
			return
		}
		err := b.deleteNotification(rt, listenerID, notificationID)
		if errors.Is(err, errItemDoesNotExist) {
			writeNotificationNotFound(w, listenerID, notificationID)
			return
		}
		if err != nil {
			writeStoreError(w, r, err, notificationID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	}

	router.HandleFunc("/{resource_type}/listeners/{listener_id}/notifications/{notification_id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		readNotification(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/{resource_type}/listeners/{listener_id}/notifications/{notification_id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		removeNotification(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)

	router.HandleFunc("/{resource_type}/listeners/{listener_id}/notifications", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		listNotifications(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/{resource_type}/listeners/{listener_id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		read(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/{resource_type}/listeners/{listener_id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		update(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)

	router.HandleFunc("/{resource_type}/listeners/{listener_id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		remove(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)

	router.HandleFunc("/{resource_type}/listeners", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		list(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/{resource_type}/listeners", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		create(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)
}
