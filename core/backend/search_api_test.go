// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/qvarn/core/client"
)

// searchIDs runs a search and returns the bare result ids.
func searchIDs(t *testing.T, cl client.Client, path string) []string {
	t.Helper()
	var list struct {
		Resources []map[string]interface{} `json:"resources"`
	}
	status, err := cl.RawGet(path, &list)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK {
		t.Fatalf("search status: %d", status)
	}
	ids := []string{}
	for _, resource := range list.Resources {
		ids = append(ids, resource["id"].(string))
	}
	return ids
}

func TestSearch(t *testing.T) {
	service := CreateTestService(configurationJSON, "_core_search_test_")
	defer service.Db.Close()
	cl := service.client

	create := func(path, body string) map[string]interface{} {
		doc := fromJSON(t, body)
		var created map[string]interface{}
		if _, err := cl.RawPost(path, &doc, &created); err != nil {
			t.Fatal(err)
		}
		return created
	}

	orgA := create("/orgs", `{
		"names": ["Company One", "The First Company"],
		"country": "FI",
		"gov_org_ids": [{"country": "FI", "org_id_type": "registration_number", "gov_org_id": "1234567-8"}]
	}`)
	orgB := create("/orgs", `{
		"names": ["Company Two"],
		"country": "SE",
		"gov_org_ids": [{"country": "SE", "org_id_type": "registration_number", "gov_org_id": "5567890123"}]
	}`)
	orgC := create("/orgs", `{"names": ["abc", "def"], "country": "DE"}`)
	orgD := create("/orgs", `{"names": ["ghj", "klm"], "country": "DE"}`)
	idA := orgA["id"].(string)
	idB := orgB["id"].(string)
	idC := orgC["id"].(string)
	idD := orgD["id"].(string)

	reading1 := create("/readings", `{"name": "first", "integer": 1, "float": 1.5, "flag": false}`)
	reading2 := create("/readings", `{"name": "second", "integer": 4, "float": 4.5, "flag": true}`)
	reading3 := create("/readings", `{"name": "third", "integer": 2, "float": 2.5, "flag": false}`)
	idR1 := reading1["id"].(string)
	idR2 := reading2["id"].(string)
	idR3 := reading3["id"].(string)

	t.Run("exact", func(t *testing.T) {
		assert.Equal(t, []string{idA}, searchIDs(t, cl, "/orgs/search/exact/country/FI"))
		// matching is case-insensitive
		assert.Equal(t, []string{idA}, searchIDs(t, cl, "/orgs/search/exact/country/fi"))
		// list fields match any element
		assert.Equal(t, []string{idB}, searchIDs(t, cl, "/orgs/search/exact/names/Company%20Two"))
		// several conditions restrict each other
		assert.Equal(t, []string{idB}, searchIDs(t, cl,
			"/orgs/search/exact/org_id_type/registration_number/exact/gov_org_id/5567890123"))
		assert.Equal(t, []string{}, searchIDs(t, cl, "/orgs/search/exact/country/NO"))
	})

	t.Run("startswith and contains", func(t *testing.T) {
		assert.Equal(t, []string{idC}, searchIDs(t, cl, "/orgs/search/startswith/names/ab"))
		assert.Equal(t, []string{idD}, searchIDs(t, cl, "/orgs/search/startswith/names/Kl"))
		assert.Equal(t, []string{idD}, searchIDs(t, cl, "/orgs/search/contains/names/hj"))
		assert.Equal(t, []string{}, searchIDs(t, cl, "/orgs/search/contains/names/zzz"))
	})

	t.Run("comparisons", func(t *testing.T) {
		assert.Equal(t, []string{idR2}, searchIDs(t, cl, "/readings/search/gt/integer/2"))
		assert.Equal(t, []string{idR1}, searchIDs(t, cl, "/readings/search/lt/integer/2"))
		assert.Equal(t, []string{idR2}, searchIDs(t, cl, "/readings/search/ge/integer/4"))
		assert.Equal(t, []string{idR1}, searchIDs(t, cl, "/readings/search/le/integer/1"))
		assert.ElementsMatch(t, []string{idR2, idR3}, searchIDs(t, cl, "/readings/search/ne/integer/1"))
		assert.ElementsMatch(t, []string{idR2, idR3}, searchIDs(t, cl, "/readings/search/gt/float/2.0"))
		assert.Equal(t, []string{idR2}, searchIDs(t, cl, "/readings/search/exact/flag/true"))
	})

	t.Run("show", func(t *testing.T) {
		var list struct {
			Resources []map[string]interface{} `json:"resources"`
		}
		_, err := cl.RawGet("/orgs/search/exact/country/SE/show/names", &list)
		if err != nil {
			t.Fatal(err)
		}
		// shown fields keep their original case
		assert.Equal(t, []map[string]interface{}{
			{"id": idB, "names": []interface{}{"Company Two"}},
		}, list.Resources)

		_, err = cl.RawGet("/orgs/search/exact/country/SE/show_all", &list)
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, []map[string]interface{}{orgB}, list.Resources)
	})

	t.Run("sort offset limit", func(t *testing.T) {
		assert.Equal(t, []string{idR1, idR3, idR2}, searchIDs(t, cl, "/readings/search/sort/integer"))
		assert.Equal(t, []string{idR3}, searchIDs(t, cl, "/readings/search/sort/integer/offset/1/limit/1"))
		assert.Equal(t, []string{idR1, idR3}, searchIDs(t, cl, "/readings/search/sort/integer/limit/2"))
	})

	t.Run("subresource fields", func(t *testing.T) {
		person := create("/persons", `{"names": [{"full_name": "Carol Example"}]}`)
		personID := person["id"].(string)
		private := map[string]interface{}{
			"date_of_birth": "1959-02-03",
			"revision":      person["revision"],
		}
		if _, err := cl.RawPut("/persons/"+personID+"/private", &private, nil); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, []string{personID}, searchIDs(t, cl, "/persons/search/exact/date_of_birth/1959-02-03"))
	})

	t.Run("parser errors", func(t *testing.T) {
		tests := []struct {
			name string
			path string
			msg  string
		}{
			{"unknown operator", "/orgs/search/like/names/x", "unknown search operator: like"},
			{"unknown field", "/orgs/search/exact/turnover/1", "unknown search field: turnover"},
			{"missing value", "/orgs/search/exact/country", "missing arguments for operator: exact"},
			{"bad limit", "/orgs/search/limit/banana", "invalid limit: banana"},
			{"bad value", "/readings/search/exact/integer/ten", "invalid search value for field integer: ten"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				status, document := doRequest(t, service.Router, http.MethodGet, tt.path, "")
				assert.Equal(t, http.StatusBadRequest, status)
				assert.Equal(t, map[string]interface{}{
					"error_code": "SearchParserError",
					"message":    tt.msg,
				}, document)
			})
		}
	})
}
