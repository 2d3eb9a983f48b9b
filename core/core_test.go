package core

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestOperations_JSON_Unmarshalling(t *testing.T) {

	type Object struct {
		Operations []Operation `json:"operations"`
	}
	var object Object
	jsonRead := `{"operations":["create","read","update","list","search"]}`
	err := json.Unmarshal([]byte(jsonRead), &object)
	if err != nil {
		t.Fatal(err)
	}

	jsonRead = `{"operations":["invalid"]}`
	err = json.Unmarshal([]byte(jsonRead), &object)
	if err == nil {
		t.Fatal("invalid operation accepted")
	}
}

func TestOperation_ChangeType(t *testing.T) {
	cases := map[Operation]string{
		OperationCreate: "created",
		OperationUpdate: "updated",
		OperationDelete: "deleted",
		OperationRead:   "",
		OperationList:   "",
		OperationSearch: "",
	}
	for op, want := range cases {
		if got := op.ChangeType(); got != want {
			t.Fatalf("%s: got %q, want %q", op, got, want)
		}
	}
}

func TestPlural(t *testing.T) {
	if Plural("org") != "orgs" {
		t.Fatal("org")
	}
	if Plural("company") != "companies" {
		t.Fatal("company")
	}
	if Plural("grandchild") != "grandchildren" {
		t.Fatal("grandchild")
	}
}
