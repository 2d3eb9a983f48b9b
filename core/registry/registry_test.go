package registry

import (
	"os"
	"testing"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/qvarn/core/csql"
)

// TestService holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type TestService struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	registry         Registry
}

var testService TestService

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_registry_unit_test_")
	defer db.Close()
	db.ClearSchema()

	testService.registry = New(db)

	code := m.Run()
	os.Exit(code)
}

func TestRegistry(t *testing.T) {
	// the shape the backend stores: the active configuration as a string
	type active struct {
		Config  string
		Version string
	}

	accessor := testService.registry.Accessor("_test_")

	// a key that was never written reads as a zero timestamp, not an error
	var something interface{}
	writtenAt, err := accessor.Read("never written", &something)
	if err != nil {
		t.Fatal(err)
	}
	if !writtenAt.IsZero() {
		t.Fatal("unwritten key seems to exist")
	}

	now := time.Now()
	stored := active{Config: `{"resource_types":[]}`, Version: "v0"}
	if err := accessor.Write("configuration", stored); err != nil {
		t.Fatal(err)
	}
	var read active
	writtenAt, err = accessor.Read("configuration", &read)
	if err != nil {
		t.Fatal(err)
	}
	if read != stored {
		t.Fatal("could not read what I wrote")
	}
	if writtenAt.Sub(now) > time.Second {
		t.Fatal("write timestamp is off")
	}
}

func TestRegistryOverwrite(t *testing.T) {
	accessor := testService.registry.Accessor("_test_")

	if err := accessor.Write("revision", "first"); err != nil {
		t.Fatal(err)
	}
	if err := accessor.Write("revision", "second"); err != nil {
		t.Fatal(err)
	}
	var read string
	if _, err := accessor.Read("revision", &read); err != nil {
		t.Fatal(err)
	}
	if read != "second" {
		t.Fatalf("expected overwritten value, got %s", read)
	}
}

func TestRegistryDelete(t *testing.T) {
	accessor := testService.registry.Accessor("_test_")

	if err := accessor.Write("doomed", "value"); err != nil {
		t.Fatal(err)
	}
	if err := accessor.Delete("doomed"); err != nil {
		t.Fatal(err)
	}
	var read string
	writtenAt, err := accessor.Read("doomed", &read)
	if err != nil {
		t.Fatal(err)
	}
	if !writtenAt.IsZero() {
		t.Fatal("deleted key seems to exist")
	}

	// deleting again is not an error
	if err := accessor.Delete("doomed"); err != nil {
		t.Fatal(err)
	}
}
