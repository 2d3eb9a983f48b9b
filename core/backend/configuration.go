// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/qvarn/core"
	"github.com/relabs-tech/qvarn/core/schema"
)

// Configuration holds a complete backend configuration: the set of resource
// type definitions served by the API.
type Configuration struct {
	ResourceTypes []Definition `json:"resource_types"`
}

// Definition describes a single resource type. Type is the singular noun the
// resource is known by, Path the URL segment its collection is served under.
// When Path is empty, the pluralized type is used.
//
// Definitions are versioned. The last entry of Versions is the active
// version, earlier entries document the type's history.
type Definition struct {
	Type     string    `json:"type"`
	Path     string    `json:"path,omitempty"`
	Versions []Version `json:"versions"`
}

// Version is one version of a resource type definition. The prototype is an
// example document: every scalar stands in for the expected type of that
// field, every list carries a single element describing the list items.
type Version struct {
	Version   string                 `json:"version"`
	Prototype map[string]interface{} `json:"prototype"`
	Subpaths  map[string]Subpath     `json:"subpaths,omitempty"`
	Files     []string               `json:"files,omitempty"`
}

// Subpath is a named sub-document of a resource with its own prototype.
type Subpath struct {
	Prototype map[string]interface{} `json:"prototype"`
}

// parseConfiguration unmarshals a backend configuration. Every resource type
// definition must validate against the built-in meta schema.
func parseConfiguration(config string) (Configuration, error) {
	validator, err := schema.NewDefinitionValidator()
	if err != nil {
		return Configuration{}, err
	}
	var raw struct {
		ResourceTypes []json.RawMessage `json:"resource_types"`
	}
	if err := json.Unmarshal([]byte(config), &raw); err != nil {
		return Configuration{}, fmt.Errorf("parse error in backend configuration: %s", err)
	}
	var c Configuration
	for _, doc := range raw.ResourceTypes {
		if err := validator.ValidateString(string(doc), schema.DefinitionSchemaID); err != nil {
			return Configuration{}, fmt.Errorf("invalid resource type definition: %s", err)
		}
		var def Definition
		if err := json.Unmarshal(doc, &def); err != nil {
			return Configuration{}, err
		}
		c.ResourceTypes = append(c.ResourceTypes, def)
	}
	return c, nil
}

// fieldKind classifies a searchable field by the type of its prototype value.
type fieldKind int

const (
	fieldString fieldKind = iota
	fieldNumber
	fieldBool
)

// resourceType is the compiled form of a definition: the names of the
// backing tables and indexes, the sorted list of JSON subpaths, the set of
// file subpaths and the search schema derived from the prototypes.
type resourceType struct {
	definition Definition
	version    Version

	name     string
	path     string
	subpaths []string
	files    map[string]bool
	fields   map[string]fieldKind

	table        string
	auxTable     string
	changesTable string
	filesTable   string
	ginIndex     string
	auxIndex     string

	// the built-in listener type shares the storage layout but none of
	// the user-facing collection routes
	builtin bool
}

func newResourceType(def Definition) (*resourceType, error) {
	if len(def.Versions) == 0 {
		return nil, fmt.Errorf("resource type %s has no versions", def.Type)
	}
	version := def.Versions[len(def.Versions)-1]
	path := strings.Trim(def.Path, "/")
	if path == "" {
		path = core.Plural(def.Type)
	}
	rt := &resourceType{
		definition:   def,
		version:      version,
		name:         def.Type,
		path:         path,
		files:        map[string]bool{},
		table:        chopLongName(def.Type, maxNameLength),
		auxTable:     chopLongName(def.Type+"__aux", maxNameLength),
		changesTable: chopLongName(def.Type+"__changes", maxNameLength),
		filesTable:   chopLongName(def.Type+"__files", maxNameLength),
		ginIndex:     chopLongName("gin_idx_"+def.Type, maxNameLength),
		auxIndex:     chopLongName("idx_"+def.Type+"__aux__id", maxNameLength),
	}
	for _, name := range version.Files {
		rt.files[name] = true
	}
	for name := range version.Subpaths {
		if !rt.files[name] {
			rt.subpaths = append(rt.subpaths, name)
		}
	}
	sort.Strings(rt.subpaths)
	rt.fields = prototypeFields(rt.prototypes())
	return rt, nil
}

// prototypes returns the main prototype followed by all subpath prototypes
// in sorted subpath order.
func (rt *resourceType) prototypes() []interface{} {
	parts := []interface{}{rt.version.Prototype}
	names := make([]string, 0, len(rt.version.Subpaths))
	for name := range rt.version.Subpaths {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, rt.version.Subpaths[name].Prototype)
	}
	return parts
}

// dataColumn returns the table column holding the given subpath, or the main
// document column for the empty subpath.
func (rt *resourceType) dataColumn(subpath string) string {
	if subpath == "" {
		return "data"
	}
	return chopLongName("data_"+subpath, maxNameLength)
}

func (rt *resourceType) hasSubpath(subpath string) bool {
	for _, name := range rt.subpaths {
		if name == subpath {
			return true
		}
	}
	return false
}

// prototypeFields derives the search schema from a set of prototypes: for
// every field name that occurs anywhere, the kind of its shallowest
// occurrence decides how search values are coerced.
func prototypeFields(parts []interface{}) map[string]fieldKind {
	var leaves []leaf
	collectLeaves(parts, "", 0, &leaves)
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].name != leaves[j].name {
			return leaves[i].name < leaves[j].name
		}
		return leaves[i].depth < leaves[j].depth
	})
	fields := map[string]fieldKind{}
	for _, lf := range leaves {
		if _, ok := fields[lf.name]; ok {
			continue
		}
		switch lf.value.(type) {
		case bool:
			fields[lf.name] = fieldBool
		case int, int64, float64:
			fields[lf.name] = fieldNumber
		default:
			fields[lf.name] = fieldString
		}
	}
	return fields
}

// listenerDefinition is the built-in resource type behind the per-type
// listener routes. Listeners are stored with the same layout as user-defined
// resources but do not write change records themselves.
var listenerDefinition = Definition{
	Type: "listener",
	Versions: []Version{
		{
			Version: "v1",
			Prototype: map[string]interface{}{
				"notify_of_new": false,
				"notify_on_all": false,
				"listen_on":     []interface{}{""},
			},
		},
	},
}
