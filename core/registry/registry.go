// Package registry persists small JSON objects in the backend database.
//
// The backend stores the active resource-type configuration here and compares
// it on startup to decide whether the storage schema needs an update.
package registry

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/qvarn/core/csql"
)

// registryTable cannot collide with resource tables, type names
// never start with an underscore.
const registryTable = "_registry_"

// Registry is a persistent key/value store in a SQL database. Values are
// serialized as JSON and carry the timestamp of their last write.
type Registry struct {
	db *csql.DB
}

// New creates the registry table in the database schema if necessary.
func New(db *csql.DB) Registry {
	_, err := db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s."%s" (
key VARCHAR NOT NULL,
value JSONB NOT NULL,
timestamp TIMESTAMP NOT NULL,
PRIMARY KEY(key)
);`, db.Schema, registryTable))
	if err != nil {
		panic(err)
	}
	return Registry{db: db}
}

// Accessor reads and writes registry values under a common key prefix.
type Accessor struct {
	prefix   string
	registry Registry
}

// Accessor returns an accessor for the given prefix. Keys are stored
// as "{prefix}:{key}".
func (r Registry) Accessor(prefix string) Accessor {
	return Accessor{prefix: prefix, registry: r}
}

func (a Accessor) prefixed(key string) string {
	if len(a.prefix) > 0 {
		return a.prefix + ":" + key
	}
	return key
}

// Read reads the value stored under key into value, which must be a pointer.
// It returns the time the value was written, or a zero timestamp if there is
// no value.
func (a Accessor) Read(key string, value interface{}) (time.Time, error) {
	key = a.prefixed(key)
	var (
		raw     json.RawMessage
		written time.Time
	)
	err := a.registry.db.QueryRow(fmt.Sprintf(
		`SELECT value, timestamp FROM %s."%s" WHERE key=$1;`,
		a.registry.db.Schema, registryTable), key).Scan(&raw, &written)
	if err == csql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot read key '%s': %s", key, err.Error())
	}
	return written, json.Unmarshal(raw, value)
}

// Write stores value under key, replacing any previous value.
func (a Accessor) Write(key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	key = a.prefixed(key)
	res, err := a.registry.db.Exec(fmt.Sprintf(
		`INSERT INTO %s."%s" (key,value,timestamp) VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2, timestamp=$3;`,
		a.registry.db.Schema, registryTable),
		key, string(body), time.Now().UTC())
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write key %s", key)
	}
	return nil
}

// Delete removes the value stored under key. Deleting a key that does not
// exist is not an error.
func (a Accessor) Delete(key string) error {
	_, err := a.registry.db.Exec(fmt.Sprintf(
		`DELETE FROM %s."%s" WHERE key=$1;`,
		a.registry.db.Schema, registryTable), a.prefixed(key))
	return err
}
