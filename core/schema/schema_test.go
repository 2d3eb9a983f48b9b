package schema_test

import (
	"testing"

	"github.com/relabs-tech/qvarn/core/schema"
)

const (
	nameRef = `{ "$id": "https://qvarn.relabs.tech/schemas/test/name.json",
	             "type": "string", "pattern": "^[a-z][a-z0-9_]*$" }`
	lengthRef = `{ "$id": "https://qvarn.relabs.tech/schemas/test/length.json",
	               "maxLength": 8 }`

	typeNameSchema = `
	{ "$id": "https://qvarn.relabs.tech/schemas/test/type-name.json",
	  "allOf": [
		{ "$ref": "https://qvarn.relabs.tech/schemas/test/name.json" },
		{ "$ref": "https://qvarn.relabs.tech/schemas/test/length.json" }
	  ]
	}`
	pathSchema = `
	{ "$id": "https://qvarn.relabs.tech/schemas/test/path.json",
	  "allOf": [
		{ "$ref": "https://qvarn.relabs.tech/schemas/test/name.json" }
	  ]
	}`
)

func TestValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{typeNameSchema, pathSchema}, []string{nameRef, lengthRef})
	if err != nil {
		t.Fatalf("no error expected when creating validator, got %v", err)
	}

	typeNameID := "https://qvarn.relabs.tech/schemas/test/type-name.json"
	pathID := "https://qvarn.relabs.tech/schemas/test/path.json"

	if err := v.ValidateString(`"org"`, typeNameID); err != nil {
		t.Fatalf("\"org\" is expected to be valid with schema %s, got: %v", typeNameID, err)
	}

	// too long for the length reference
	if err := v.ValidateString(`"a_very_long_name"`, typeNameID); err == nil {
		t.Fatalf("\"a_very_long_name\" is expected to be invalid with schema %s", typeNameID)
	}

	// the path schema has no length restriction
	if err := v.ValidateString(`"a_very_long_name"`, pathID); err != nil {
		t.Fatalf("\"a_very_long_name\" is expected to be valid with schema %s, got: %v", pathID, err)
	}

	// pattern still applies
	if err := v.ValidateString(`"Org"`, pathID); err == nil {
		t.Fatalf("\"Org\" is expected to be invalid with schema %s", pathID)
	}
}

func TestValidateStruct(t *testing.T) {
	listenerSchema := `{
		"$id": "https://qvarn.relabs.tech/schemas/test/listener.json",
		"type": "object",
		"required": [
			"notify_of_new"
		],
		"properties": {
			"notify_of_new": {
				"type": "boolean"
			}
		}
	}`
	listenerID := "https://qvarn.relabs.tech/schemas/test/listener.json"

	v, err := schema.NewValidator([]string{listenerSchema}, []string{})
	if err != nil {
		t.Fatalf("no error expected when creating validator, got %v", err)
	}

	type listener struct {
		NotifyOfNew bool `json:"notify_of_new"`
	}
	if err := v.ValidateStruct(listener{true}, listenerID); err != nil {
		t.Fatalf("listener is expected to be valid, got: %v", err)
	}

	// wrong field name misses the required property
	type misnamedListener struct {
		NotifyOfNew bool `json:"notify_new"`
	}
	if err := v.ValidateStruct(misnamedListener{true}, listenerID); err == nil {
		t.Fatal("listener without notify_of_new is expected to be invalid")
	}
}

func TestHasSchema(t *testing.T) {
	v, err := schema.NewValidator([]string{typeNameSchema, pathSchema}, []string{nameRef, lengthRef})
	if err != nil {
		t.Fatalf("no error expected when creating validator, got %v", err)
	}

	for _, schemaID := range []string{
		"https://qvarn.relabs.tech/schemas/test/type-name.json",
		"https://qvarn.relabs.tech/schemas/test/path.json",
	} {
		if !v.HasSchema(schemaID) {
			t.Fatalf("%s is expected to be available", schemaID)
		}
	}
	if v.HasSchema("https://qvarn.relabs.tech/schemas/test/unknown.json") {
		t.Fatal("unknown schema is not expected to be available")
	}
}

func TestDefinitionValidator(t *testing.T) {
	v, err := schema.NewDefinitionValidator()
	if err != nil {
		t.Fatalf("no error expected when creating validator, got %v", err)
	}

	valid := `{
		"type": "org",
		"path": "/orgs",
		"versions": [
			{
				"version": "v0",
				"prototype": {
					"id": "",
					"type": "",
					"revision": "",
					"names": [""],
					"gov_org_ids": [
						{
							"country": "",
							"org_id": ""
						}
					],
					"registered": false,
					"employee_count": 0
				},
				"subpaths": {
					"pep": {
						"prototype": {
							"pep_check_valid_until": ""
						}
					}
				},
				"files": ["document"]
			}
		]
	}`
	if err := v.ValidateString(valid, schema.DefinitionSchemaID); err != nil {
		t.Fatalf("definition is expected to be valid, got: %v", err)
	}

	// versions is required
	missingVersions := `{ "type": "org", "path": "/orgs" }`
	if err := v.ValidateString(missingVersions, schema.DefinitionSchemaID); err == nil {
		t.Fatal("definition without versions is expected to be invalid")
	}

	// type names are lowercase identifiers
	badType := `{ "type": "Org", "versions": [ { "version": "v0", "prototype": {} } ] }`
	if err := v.ValidateString(badType, schema.DefinitionSchemaID); err == nil {
		t.Fatal("definition with upper-case type is expected to be invalid")
	}

	// list prototypes carry exactly one element
	badList := `{
		"type": "org",
		"versions": [
			{
				"version": "v0",
				"prototype": { "names": ["", ""] }
			}
		]
	}`
	if err := v.ValidateString(badList, schema.DefinitionSchemaID); err == nil {
		t.Fatal("definition with a two-element list prototype is expected to be invalid")
	}
}
