package test

import (
	"net/http"

	"github.com/relabs-tech/qvarn/core/backend"
	"github.com/relabs-tech/qvarn/core/client"
)

// TestOverTheWire exercises the service through the HTTP server instead of
// the router, the way real callers reach it.
func (s *NotificationsTestSuite) TestOverTheWire() {
	cl := client.NewWithURL("http://localhost:8080")

	var version struct {
		API struct {
			Version string `json:"version"`
		} `json:"api"`
		Implementation struct {
			Name string `json:"name"`
		} `json:"implementation"`
	}
	status, err := cl.RawGet("/version", &version)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(backend.APIVersion, version.API.Version)
	s.Require().Equal("qvarn", version.Implementation.Name)

	person := map[string]interface{}{
		"names": []interface{}{
			map[string]interface{}{"full_name": "Wire Test", "sort_key": "test, wire"},
		},
	}
	var created map[string]interface{}
	status, err = cl.RawPost("/persons", &person, &created)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusCreated, status)
	id := created["id"].(string)

	var read map[string]interface{}
	status, err = cl.RawGet("/persons/"+id, &read)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(created, read)

	status, err = cl.RawDelete("/persons/" + id)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, status)
}
