// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"errors"
	"reflect"
	"testing"

	"github.com/relabs-tech/qvarn/core/csql"
)

func searchTestBackend(t *testing.T) (*Backend, *resourceType) {
	t.Helper()
	rt, err := newResourceType(Definition{
		Type: "org",
		Versions: []Version{
			{
				Version: "v1",
				Prototype: map[string]interface{}{
					"country":        "",
					"gov_org_id":     "",
					"employee_count": 0,
					"is_active":      false,
					"names": []interface{}{
						map[string]interface{}{"full_name": ""},
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &Backend{db: &csql.DB{Schema: "unit"}}, rt
}

func TestParseSearch(t *testing.T) {
	sq, err := parseSearch("exact/country/FI/startswith/full_name/Kl/show/names/sort/employee_count/offset/5/limit/10")
	if err != nil {
		t.Fatal(err)
	}
	expected := &searchQuery{
		conditions: []searchCondition{
			{operator: "exact", key: "country", value: "FI"},
			{operator: "startswith", key: "full_name", value: "Kl"},
		},
		show:     []string{"names"},
		sortKeys: []string{"employee_count"},
		offset:   5,
		limit:    10,
	}
	if !reflect.DeepEqual(sq, expected) {
		t.Fatalf("unexpected query %+v", sq)
	}
}

func TestParseSearchUnescapesTokens(t *testing.T) {
	sq, err := parseSearch("exact/full_name/Alfred%20Pennyworth/show_all")
	if err != nil {
		t.Fatal(err)
	}
	if sq.conditions[0].value != "Alfred Pennyworth" {
		t.Fatalf("unexpected value %s", sq.conditions[0].value)
	}
	if !sq.showAll {
		t.Fatal("show_all not parsed")
	}
}

func TestParseSearchErrors(t *testing.T) {
	invalid := []string{
		"",
		"frobnicate/a/b",
		"exact/country",
		"show",
		"offset/many",
		"limit/-1",
		"exact/country/FI/",
	}
	for _, raw := range invalid {
		_, err := parseSearch(raw)
		var spe searchParserError
		if !errors.As(err, &spe) {
			t.Fatalf("expected parser error for %q, got %v", raw, err)
		}
	}
}

func TestCoerceSearchValue(t *testing.T) {
	if v, err := coerceSearchValue(fieldNumber, "24"); err != nil || v != 24.0 {
		t.Fatalf("unexpected %v %v", v, err)
	}
	if _, err := coerceSearchValue(fieldNumber, "many"); err == nil {
		t.Fatal("expected error")
	}
	if v, err := coerceSearchValue(fieldBool, "true"); err != nil || v != true {
		t.Fatalf("unexpected %v %v", v, err)
	}
	if v, err := coerceSearchValue(fieldString, "AbC"); err != nil || v != "abc" {
		t.Fatalf("unexpected %v %v", v, err)
	}
}

func TestCompileSearchExact(t *testing.T) {
	b, rt := searchTestBackend(t)
	sq, err := parseSearch("exact/country/FI/exact/gov_org_id/0123")
	if err != nil {
		t.Fatal(err)
	}
	query, args, err := b.compileSearch(rt, sq)
	if err != nil {
		t.Fatal(err)
	}
	expected := `SELECT DISTINCT m.id FROM unit."org" m WHERE m.search @> $1::jsonb;`
	if query != expected {
		t.Fatalf("unexpected query %s", query)
	}
	if len(args) != 1 || args[0] != `[{"country":"fi"},{"gov_org_id":"0123"}]` {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestCompileSearchAuxJoins(t *testing.T) {
	b, rt := searchTestBackend(t)
	sq, err := parseSearch("startswith/full_name/Kl/gt/employee_count/10")
	if err != nil {
		t.Fatal(err)
	}
	query, args, err := b.compileSearch(rt, sq)
	if err != nil {
		t.Fatal(err)
	}
	expected := `SELECT DISTINCT m.id FROM unit."org" m` +
		` JOIN unit."org__aux" t1 ON t1.id = m.id` +
		` JOIN unit."org__aux" t2 ON t2.id = m.id` +
		` WHERE t1.data->>$1 LIKE $2 AND t2.data->$3 > $4::jsonb;`
	if query != expected {
		t.Fatalf("unexpected query %s", query)
	}
	expectedArgs := []interface{}{"full_name", "kl%", "employee_count", "10"}
	if !reflect.DeepEqual(args, expectedArgs) {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestCompileSearchSortAndPaging(t *testing.T) {
	b, rt := searchTestBackend(t)
	sq, err := parseSearch("show_all/sort/country/sort/id/limit/5/offset/2")
	if err != nil {
		t.Fatal(err)
	}
	query, args, err := b.compileSearch(rt, sq)
	if err != nil {
		t.Fatal(err)
	}
	expected := `SELECT DISTINCT m.id, m.revision, m.data, m.data->$1 AS sort_1 FROM unit."org" m` +
		` ORDER BY sort_1, m.id LIMIT $2 OFFSET $3;`
	if query != expected {
		t.Fatalf("unexpected query %s", query)
	}
	expectedArgs := []interface{}{"country", 5, 2}
	if !reflect.DeepEqual(args, expectedArgs) {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestCompileSearchUnknownField(t *testing.T) {
	b, rt := searchTestBackend(t)
	sq, err := parseSearch("exact/wealth/untold")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = b.compileSearch(rt, sq)
	var spe searchParserError
	if !errors.As(err, &spe) {
		t.Fatalf("expected parser error, got %v", err)
	}
}

func TestCompileSearchBoolCondition(t *testing.T) {
	b, rt := searchTestBackend(t)
	sq, err := parseSearch("exact/is_active/true/ne/country/FI")
	if err != nil {
		t.Fatal(err)
	}
	query, args, err := b.compileSearch(rt, sq)
	if err != nil {
		t.Fatal(err)
	}
	expected := `SELECT DISTINCT m.id FROM unit."org" m` +
		` JOIN unit."org__aux" t1 ON t1.id = m.id` +
		` WHERE t1.data->$1 != $2::jsonb AND m.search @> $3::jsonb;`
	if query != expected {
		t.Fatalf("unexpected query %s", query)
	}
	expectedArgs := []interface{}{"country", `"fi"`, `[{"is_active":true}]`}
	if !reflect.DeepEqual(args, expectedArgs) {
		t.Fatalf("unexpected args %v", args)
	}
}
