// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package schema validates resource-type definition documents against the
// built-in meta schema. The meta schema itself is embedded with the package,
// top-level schemas in the package root and shared references under refs/.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"
)

// DefinitionSchemaID identifies the built-in meta schema for resource-type
// definition documents.
const DefinitionSchemaID = "https://qvarn.relabs.tech/schemas/resource-type.json"

//go:embed *.json refs/*.json
var definitionFS embed.FS

// Validator validates JSON documents against a set of compiled schemas,
// keyed by their $id.
type Validator struct {
	compiled map[string]*gojsonschema.Schema
}

// NewDefinitionValidator returns a validator loaded with the embedded meta
// schema for resource-type definitions.
func NewDefinitionValidator() (*Validator, error) {
	schemas, err := readSchemaDir(".")
	if err != nil {
		return nil, err
	}
	refs, err := readSchemaDir("refs")
	if err != nil {
		return nil, err
	}
	return NewValidator(schemas, refs)
}

func readSchemaDir(dir string) ([]string, error) {
	entries, err := definitionFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read schema directory %s: %w", dir, err)
	}
	var schemas []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := entry.Name()
		if dir != "." {
			name = dir + "/" + name
		}
		raw, err := definitionFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("cannot read schema %s: %w", name, err)
		}
		schemas = append(schemas, string(raw))
	}
	return schemas, nil
}

// NewValidator compiles the given top-level schemas. Every schema must carry
// a $id. Top-level schemas cannot reference each other, anything they
// reference must be in refs.
func NewValidator(schemas, refs []string) (*Validator, error) {
	v := &Validator{compiled: make(map[string]*gojsonschema.Schema)}
	for _, raw := range schemas {
		var head struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal([]byte(raw), &head); err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, raw)
		}
		if head.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", raw)
		}
		// each top-level schema gets its own loader with all references
		sl := gojsonschema.NewSchemaLoader()
		for _, ref := range refs {
			if err := sl.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
				return nil, fmt.Errorf("cannot add schema reference: %s", err)
			}
		}
		compiled, err := sl.Compile(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %s", head.ID, err)
		}
		v.compiled[head.ID] = compiled
	}
	return v, nil
}

// HasSchema returns true if a schema with the given $id was loaded.
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.compiled[schemaID]
	return ok
}

// ValidateStruct validates document, given as a Go value, against the schema
// with the given $id. A nil error means the document is valid.
func (v *Validator) ValidateStruct(document interface{}, schemaID string) error {
	return v.validate(gojsonschema.NewGoLoader(document), schemaID)
}

// ValidateString validates document, given as raw JSON, against the schema
// with the given $id. A nil error means the document is valid.
func (v *Validator) ValidateString(document, schemaID string) error {
	return v.validate(gojsonschema.NewStringLoader(document), schemaID)
}

func (v *Validator) validate(document gojsonschema.JSONLoader, schemaID string) error {
	compiled, ok := v.compiled[schemaID]
	if !ok {
		return fmt.Errorf("there is no schema %s", schemaID)
	}
	result, err := compiled.Validate(document)
	if err != nil {
		return fmt.Errorf("cannot validate with schema %s: %s", schemaID, err)
	}
	if result.Valid() {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("the document is not valid:\n")
	for _, e := range result.Errors() {
		fmt.Fprintf(&sb, "- %s\n", e)
	}
	return errors.New(sb.String())
}
