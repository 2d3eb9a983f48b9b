// Package csql wraps database/sql with a postgres schema.
package csql

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/relabs-tech/qvarn/core/logger"
)

// DB is a sql.DB pinned to a schema. All table names in queries must be
// qualified with Schema.
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is sql.ErrNoRows, exported here so callers do not need to
// import database/sql alongside this package.
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens a postgres database and creates the schema if it does
// not exist yet. An empty schema name selects "public".
//
// The password is passed separately so connection strings can be logged
// and shared without credentials.
func OpenWithSchema(dataSourceName, password, schema string) *DB {
	logger.Default().Infoln("connecting to postgres database:", dataSourceName)
	if len(password) > 0 {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		logger.Default().Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// ClearSchema wipes all data by dropping and recreating the schema. Refuses
// to touch the public schema.
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().Errorln("clear schema error:", db.Schema, err.Error())
	}
}

// WithTransaction runs f inside a transaction. The transaction is committed
// when f returns nil, and rolled back when f returns an error or panics.
func (db *DB) WithTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
