package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/qvarn/core/logger"
)

// errItemDoesNotExist is returned by storage operations when the addressed
// item is missing.
var errItemDoesNotExist = errors.New("item does not exist")

// wrongRevisionError is returned by update operations when the revision in
// the request does not match the stored revision.
type wrongRevisionError struct {
	current string
	update  string
}

func (e wrongRevisionError) Error() string {
	return fmt.Sprintf("resource currently has revision %s, update wants to update %s", e.current, e.update)
}

// validationError is returned when a document does not match its prototype.
type validationError struct {
	field  string
	reason string
}

func (e validationError) Error() string {
	return e.field + ": " + e.reason
}

// searchParserError is returned for malformed search conditions.
type searchParserError struct {
	message string
}

func (e searchParserError) Error() string {
	return e.message
}

// wrongRevisionMessage is sent verbatim, braces included.
const wrongRevisionMessage = "Updating resource {item_id} failed: resource currently has revision {current}, update wants to update {update}."

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "Error 4640", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeResourceTypeNotFound(w http.ResponseWriter, resourceType string) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error_code":    "ResourceTypeDoesNotExist",
		"resource_type": resourceType,
		"message":       "Resource type does not exist",
	})
}

func writeItemNotFound(w http.ResponseWriter, itemID string) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error_code": "ItemDoesNotExist",
		"item_id":    itemID,
		"message":    "Item does not exist",
	})
}

// writeNotificationNotFound is the 404 for notification routes, it names
// both the listener and the notification.
func writeNotificationNotFound(w http.ResponseWriter, listenerID, itemID string) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error_code":  "ItemDoesNotExist",
		"listener_id": listenerID,
		"item_id":     itemID,
		"message":     "Item does not exist",
	})
}

func writeWrongRevision(w http.ResponseWriter, itemID string, e wrongRevisionError) {
	writeJSON(w, http.StatusConflict, map[string]string{
		"error_code": "WrongRevision",
		"item_id":    itemID,
		"current":    e.current,
		"update":     e.update,
		"message":    wrongRevisionMessage,
	})
}

func writeValidationError(w http.ResponseWriter, e validationError) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error_code": "ValidationError",
		"field":      e.field,
		"message":    e.reason,
	})
}

func writeSearchParserError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error_code": "SearchParserError",
		"message":    message,
	})
}

// writeStoreError translates a storage error into the canonical response
// body. Unclassified errors become an opaque 500.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, itemID string) {
	var ve validationError
	var wre wrongRevisionError
	var spe searchParserError
	switch {
	case errors.Is(err, errItemDoesNotExist):
		writeItemNotFound(w, itemID)
	case errors.As(err, &ve):
		writeValidationError(w, ve)
	case errors.As(err, &wre):
		writeWrongRevision(w, itemID, wre)
	case errors.As(err, &spe):
		writeSearchParserError(w, spe.message)
	default:
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4643: storage operation failed")
		http.Error(w, "Error 4643", http.StatusInternalServerError)
	}
}
