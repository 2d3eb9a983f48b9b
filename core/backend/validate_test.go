package backend

import (
	"errors"
	"reflect"
	"testing"
)

var orgPrototype = map[string]interface{}{
	"id":       "",
	"type":     "",
	"revision": "",
	"country":  "",
	"names": []interface{}{
		map[string]interface{}{
			"full_name": "",
			"voucher":   false,
		},
	},
	"employee_count": 0,
	"keywords":       []interface{}{""},
}

func TestValidatedStripsUnknownFields(t *testing.T) {
	doc := decodeDocument(t, `{
		"type": "org",
		"country": "FI",
		"names": [{"full_name": "Alfred", "voucher": true, "extra": "x"}],
		"wealth": "untold"
	}`)
	checked, err := validated(orgPrototype, doc)
	if err != nil {
		t.Fatal(err)
	}
	expected := decodeDocument(t, `{
		"type": "org",
		"country": "FI",
		"names": [{"full_name": "Alfred", "voucher": true}]
	}`)
	if !reflect.DeepEqual(checked, expected) {
		t.Fatalf("unexpected document %v", checked)
	}
}

func TestValidatedKeepsDeclaredMetaFields(t *testing.T) {
	doc := decodeDocument(t, `{"id": "some-id", "revision": "some-revision", "country": "SE"}`)
	checked, err := validated(orgPrototype, doc)
	if err != nil {
		t.Fatal(err)
	}
	if checked["id"] != "some-id" || checked["revision"] != "some-revision" {
		t.Fatalf("declared meta fields were dropped: %v", checked)
	}
	if _, ok := checked["names"]; ok {
		t.Fatal("missing fields must not be filled in")
	}
}

func TestValidatedKeepsNull(t *testing.T) {
	doc := decodeDocument(t, `{"country": null, "names": null}`)
	checked, err := validated(orgPrototype, doc)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := checked["country"]; !ok || v != nil {
		t.Fatalf("null must be kept, got %v", checked)
	}
}

func TestValidatedRejectsWrongTypes(t *testing.T) {
	cases := []struct {
		body  string
		field string
	}{
		{`{"country": 7}`, "country"},
		{`{"employee_count": "many"}`, "employee_count"},
		{`{"employee_count": true}`, "employee_count"},
		{`{"names": {"full_name": "x"}}`, "names"},
		{`{"names": [{"full_name": 1}]}`, "names.0.full_name"},
		{`{"names": [{"voucher": "yes"}]}`, "names.0.voucher"},
		{`{"names": ["flat"]}`, "names.0"},
		{`{"keywords": [1]}`, "keywords.0"},
	}
	for _, c := range cases {
		_, err := validated(orgPrototype, decodeDocument(t, c.body))
		var ve validationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected validation error for %s, got %v", c.body, err)
		}
		if ve.field != c.field {
			t.Fatalf("expected field %s for %s, got %s", c.field, c.body, ve.field)
		}
	}
}

func TestValidatedAcceptsNumbers(t *testing.T) {
	doc := decodeDocument(t, `{"employee_count": 24}`)
	checked, err := validated(orgPrototype, doc)
	if err != nil {
		t.Fatal(err)
	}
	if checked["employee_count"] != 24.0 {
		t.Fatalf("unexpected value %v", checked["employee_count"])
	}
}
