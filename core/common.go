package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents a backend storage operation, one of Create, Read, Update, Delete, List, Search
type Operation string

// all supported storage operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
	OperationSearch Operation = "search"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList, OperationSearch:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// ChangeType returns the change-log classification of a mutating operation:
// "created", "updated" or "deleted". Non-mutating operations return the
// empty string.
func (o Operation) ChangeType() string {
	switch o {
	case OperationCreate:
		return "created"
	case OperationUpdate:
		return "updated"
	case OperationDelete:
		return "deleted"
	}
	return ""
}

// Plural returns the plural form of the passed singular string.
//
// This is the default algorithm to derive a resource type's URL path
// when its definition does not declare one.
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	if strings.HasSuffix(singular, "child") {
		return strings.TrimSuffix(singular, "child") + "children"
	}
	return singular + "s"

}
