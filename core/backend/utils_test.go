// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend_test

import (
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/qvarn/core/backend"
	"github.com/relabs-tech/qvarn/core/client"
	"github.com/relabs-tech/qvarn/core/csql"
)

// CreateTestService creates a new service that can be used for testing.
// Authorization is disabled. It is expected to close the Db from the
// returned object when the object is no longer used.
func CreateTestService(config, schemaName string) *TestService {
	return createTestServiceInternal(config, schemaName, true /*clear schema*/, false)
}

// CreateSecureTestService creates a new service with authorization
// enabled. Requests without a matching scope are rejected.
// It is expected to close the Db from the returned object when the
// object is no longer used.
func CreateSecureTestService(config, schemaName string) *TestService {
	return createTestServiceInternal(config, schemaName, true /*clear schema*/, true)
}

// UpdateTestService creates a new service that can be used for testing,
// reusing the data in the schema from the previous call.
// It is expected to close the Db from the returned object when the object
// is no longer used.
func UpdateTestService(config, schemaName string) *TestService {
	return createTestServiceInternal(config, schemaName, false /*keep schema*/, false)
}

func createTestServiceInternal(config, schemaName string, clearSchema, authorizationEnabled bool) *TestService {

	s := TestService{}
	if err := envdecode.Decode(&s); err != nil {
		panic(err)
	}

	s.Db = csql.OpenWithSchema(s.Postgres, s.PostgresPassword, schemaName)
	if clearSchema {
		s.Db.ClearSchema()
	}

	s.Router = mux.NewRouter()

	builder := backend.Builder{
		Config:               config,
		DB:                   s.Db,
		Router:               s.Router,
		AuthorizationEnabled: authorizationEnabled,
	}
	s.backend = backend.New(&builder)
	s.client = client.NewWithRouter(s.Router)

	return &s
}
