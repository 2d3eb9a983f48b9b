package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/relabs-tech/qvarn/core"
	"github.com/relabs-tech/qvarn/core/access"
	"github.com/relabs-tech/qvarn/core/csql"
	"github.com/relabs-tech/qvarn/core/logger"
)

// createStorage creates the tables and indexes backing a resource type. All
// statements are idempotent, re-running them on an existing schema is safe.
func (b *Backend) createStorage(rt *resourceType) {
	schema := b.db.Schema

	columns := []string{
		`id VARCHAR(46) PRIMARY KEY`,
		`revision VARCHAR(46) NOT NULL`,
		`search JSONB NOT NULL`,
		`data JSONB NOT NULL`,
	}
	for _, subpath := range rt.subpaths {
		columns = append(columns, fmt.Sprintf(`"%s" JSONB`, rt.dataColumn(subpath)))
	}
	if rt.builtin {
		columns = append(columns, `listen_on_type VARCHAR NOT NULL DEFAULT ''`)
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s."%s" (%s);`,
			schema, rt.table, strings.Join(columns, ", ")),
	}
	// a subpath added to the definition of an existing type gets its column here
	for _, subpath := range rt.subpaths {
		statements = append(statements, fmt.Sprintf(`ALTER TABLE %s."%s" ADD COLUMN IF NOT EXISTS "%s" JSONB;`,
			schema, rt.table, rt.dataColumn(subpath)))
	}
	statements = append(statements,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s."%s" `+
			`(id VARCHAR(46) NOT NULL REFERENCES %s."%s"(id) ON DELETE CASCADE, data JSONB NOT NULL);`,
			schema, rt.auxTable, schema, rt.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s" ON %s."%s"(id);`,
			rt.auxIndex, schema, rt.auxTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s."%s" `+
			`(id VARCHAR(46) PRIMARY KEY, `+
			`resource_id VARCHAR(46) NOT NULL, `+
			`resource_revision VARCHAR(46) UNIQUE, `+
			`change_type VARCHAR NOT NULL, `+
			`"user" VARCHAR, `+
			`timestamp TIMESTAMP NOT NULL DEFAULT (now() at time zone 'utc'), `+
			`listeners TEXT[] NOT NULL, `+
			`data JSONB);`,
			schema, rt.changesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s" ON %s."%s" USING gin (search jsonb_path_ops);`,
			rt.ginIndex, schema, rt.table),
	)
	if len(rt.files) > 0 {
		statements = append(statements, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s."%s" `+
			`(id VARCHAR(46) NOT NULL REFERENCES %s."%s"(id) ON DELETE CASCADE, `+
			`subpath VARCHAR(128) NOT NULL, `+
			`content_type VARCHAR, `+
			`blob BYTEA, `+
			`external BOOLEAN NOT NULL DEFAULT FALSE, `+
			`UNIQUE (id, subpath));`,
			schema, rt.filesTable, schema, rt.table))
	}
	if rt.builtin {
		statements = append(statements, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s" ON %s."%s"(listen_on_type);`,
			chopLongName("idx_"+rt.name+"__listen_on_type", maxNameLength), schema, rt.table))
	}

	_, err := b.db.Exec(strings.Join(statements, "\n"))
	if err != nil {
		panic(err)
	}
}

func (b *Backend) createDocument(ctx context.Context, rt *resourceType, doc map[string]interface{}) (map[string]interface{}, error) {
	doc, err := validated(rt.version.Prototype, doc)
	if err != nil {
		return nil, err
	}
	id := newID(rt.name)
	revision := newID(rt.name)
	searchJSON, err := json.Marshal(flattenForGin(doc))
	if err != nil {
		return nil, err
	}
	dataJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s."%s"(id, revision, search, data) VALUES($1,$2,$3,$4);`,
			b.db.Schema, rt.table), id, revision, string(searchJSON), string(dataJSON))
		if err != nil {
			return err
		}
		if err := b.insertAuxRows(tx, rt, id, flattenForLists(doc)); err != nil {
			return err
		}
		return b.recordChange(ctx, tx, rt, core.OperationCreate, id, revision, doc)
	})
	if err != nil {
		return nil, err
	}
	b.triggerNotification()
	doc["id"] = id
	doc["revision"] = revision
	return doc, nil
}

func (b *Backend) readDocument(rt *resourceType, id string) (map[string]interface{}, error) {
	var revision, dataJSON string
	err := b.db.QueryRow(fmt.Sprintf(`SELECT revision, data FROM %s."%s" WHERE id = $1;`,
		b.db.Schema, rt.table), id).Scan(&revision, &dataJSON)
	if err == csql.ErrNoRows {
		return nil, errItemDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(dataJSON), &doc); err != nil {
		return nil, err
	}
	doc["id"] = id
	doc["revision"] = revision
	return doc, nil
}

func (b *Backend) listDocuments(rt *resourceType) ([]string, error) {
	rows, err := b.db.Query(fmt.Sprintf(`SELECT id FROM %s."%s";`, b.db.Schema, rt.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *Backend) updateDocument(ctx context.Context, rt *resourceType, id, revision string, doc map[string]interface{}) (map[string]interface{}, error) {
	doc, err := validated(rt.version.Prototype, doc)
	if err != nil {
		return nil, err
	}
	newRevision := newID(rt.name)
	dataJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(fmt.Sprintf(`UPDATE %s."%s" SET revision = $1, data = $2 WHERE id = $3 AND revision = $4;`,
			b.db.Schema, rt.table), newRevision, string(dataJSON), id, revision)
		if err != nil {
			return err
		}
		if err := b.checkConditionalUpdate(tx, rt, id, revision, result); err != nil {
			return err
		}
		if err := b.rebuildSearch(tx, rt, id); err != nil {
			return err
		}
		return b.recordChange(ctx, tx, rt, core.OperationUpdate, id, newRevision, doc)
	})
	if err != nil {
		return nil, err
	}
	b.triggerNotification()
	doc["id"] = id
	doc["revision"] = newRevision
	return doc, nil
}

// checkConditionalUpdate inspects the row count of a conditional update.
// One row is success. Zero rows means the resource is gone or the revision
// did not match, the current revision tells which.
func (b *Backend) checkConditionalUpdate(tx *sql.Tx, rt *resourceType, id, revision string, result sql.Result) error {
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	switch {
	case count == 1:
		return nil
	case count == 0:
		var current string
		err := tx.QueryRow(fmt.Sprintf(`SELECT revision FROM %s."%s" WHERE id = $1;`,
			b.db.Schema, rt.table), id).Scan(&current)
		if err == csql.ErrNoRows {
			return errItemDoesNotExist
		}
		if err != nil {
			return err
		}
		return wrongRevisionError{current: current, update: revision}
	default:
		return fmt.Errorf("conditional update of %s affected %d rows", id, count)
	}
}

func (b *Backend) readSubpathDocument(rt *resourceType, id, subpath string) (map[string]interface{}, error) {
	var revision string
	var dataJSON sql.NullString
	err := b.db.QueryRow(fmt.Sprintf(`SELECT revision, "%s" FROM %s."%s" WHERE id = $1;`,
		rt.dataColumn(subpath), b.db.Schema, rt.table), id).Scan(&revision, &dataJSON)
	if err == csql.ErrNoRows {
		return nil, errItemDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]interface{}{}
	if dataJSON.Valid {
		if err := json.Unmarshal([]byte(dataJSON.String), &doc); err != nil {
			return nil, err
		}
	}
	doc["revision"] = revision
	return doc, nil
}

func (b *Backend) updateSubpathDocument(ctx context.Context, rt *resourceType, id, subpath, revision string, doc map[string]interface{}) (map[string]interface{}, error) {
	doc, err := validated(rt.version.Subpaths[subpath].Prototype, doc)
	if err != nil {
		return nil, err
	}
	newRevision := newID(rt.name)
	dataJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	err = b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(fmt.Sprintf(`UPDATE %s."%s" SET revision = $1, "%s" = $2 WHERE id = $3 AND revision = $4;`,
			b.db.Schema, rt.table, rt.dataColumn(subpath)), newRevision, string(dataJSON), id, revision)
		if err != nil {
			return err
		}
		if err := b.checkConditionalUpdate(tx, rt, id, revision, result); err != nil {
			return err
		}
		if err := b.rebuildSearch(tx, rt, id); err != nil {
			return err
		}
		return b.recordChange(ctx, tx, rt, core.OperationUpdate, id, newRevision, doc)
	})
	if err != nil {
		return nil, err
	}
	b.triggerNotification()
	doc["revision"] = newRevision
	return doc, nil
}

func (b *Backend) deleteDocument(ctx context.Context, rt *resourceType, id string) error {
	err := b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var revision, dataJSON string
		err := tx.QueryRow(fmt.Sprintf(`SELECT revision, data FROM %s."%s" WHERE id = $1;`,
			b.db.Schema, rt.table), id).Scan(&revision, &dataJSON)
		if err == csql.ErrNoRows {
			return errItemDoesNotExist
		}
		if err != nil {
			return err
		}
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(dataJSON), &doc); err != nil {
			return err
		}
		if err := b.recordChange(ctx, tx, rt, core.OperationDelete, id, "", doc); err != nil {
			return err
		}
		_, err = tx.Exec(fmt.Sprintf(`DELETE FROM %s."%s" WHERE id = $1;`,
			b.db.Schema, rt.table), id)
		return err
	})
	if err != nil {
		return err
	}
	if len(rt.files) > 0 && b.blobStore != nil {
		nillog := logger.FromContext(nil)
		if err := b.blobStore.DeleteAllWithPrefix(rt.name + "/" + id + "/"); err != nil {
			nillog.WithError(err).Errorln("Error 4641: cannot delete stored files of", id)
		}
	}
	b.triggerNotification()
	return nil
}

// rebuildSearch recomputes the search column and the auxiliary rows of a
// resource from the main document and all subpath documents.
func (b *Backend) rebuildSearch(tx *sql.Tx, rt *resourceType, id string) error {
	columns := []string{"data"}
	for _, subpath := range rt.subpaths {
		columns = append(columns, `"`+rt.dataColumn(subpath)+`"`)
	}
	row := tx.QueryRow(fmt.Sprintf(`SELECT %s FROM %s."%s" WHERE id = $1;`,
		strings.Join(columns, ", "), b.db.Schema, rt.table), id)
	values := make([]sql.NullString, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}
	parts := []interface{}{}
	for _, value := range values {
		if !value.Valid {
			continue
		}
		var part map[string]interface{}
		if err := json.Unmarshal([]byte(value.String), &part); err != nil {
			return err
		}
		parts = append(parts, part)
	}

	search := []map[string]interface{}{}
	for _, part := range parts {
		search = append(search, flattenForGin(part)...)
	}
	searchJSON, err := json.Marshal(search)
	if err != nil {
		return err
	}
	_, err = tx.Exec(fmt.Sprintf(`UPDATE %s."%s" SET search = $1 WHERE id = $2;`,
		b.db.Schema, rt.table), string(searchJSON), id)
	if err != nil {
		return err
	}
	_, err = tx.Exec(fmt.Sprintf(`DELETE FROM %s."%s" WHERE id = $1;`,
		b.db.Schema, rt.auxTable), id)
	if err != nil {
		return err
	}
	return b.insertAuxRows(tx, rt, id, flattenForLists(parts))
}

func (b *Backend) insertAuxRows(tx *sql.Tx, rt *resourceType, id string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s."%s"(id, data) VALUES($1,$2);`, b.db.Schema, rt.auxTable)
	for _, row := range rows {
		dataJSON, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(query, id, string(dataJSON)); err != nil {
			return err
		}
	}
	return nil
}

// recordChange writes one change record for a successful mutation. The
// record carries the listeners interested at this point in time, computed
// inside the surrounding transaction. Mutations of the built-in listener
// type are not recorded.
func (b *Backend) recordChange(ctx context.Context, tx *sql.Tx, rt *resourceType, operation core.Operation, id, revision string, doc map[string]interface{}) error {
	if rt.builtin {
		return nil
	}
	listenerIDs, err := b.interestedListeners(tx, rt, operation, id)
	if err != nil {
		return err
	}
	changeID := newID(rt.name)
	var user string
	if auth := access.AuthorizationFromContext(ctx); auth != nil {
		user = auth.Subject
	}
	var resourceRevision interface{}
	if operation != core.OperationDelete {
		resourceRevision = revision
	}
	var dataJSON interface{}
	if doc != nil {
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		dataJSON = string(data)
	}
	_, err = tx.Exec(fmt.Sprintf(`INSERT INTO %s."%s"(id, resource_id, resource_revision, change_type, "user", listeners, data) `+
		`VALUES($1,$2,$3,$4,$5,$6,$7);`, b.db.Schema, rt.changesTable),
		changeID, id, resourceRevision, operation.ChangeType(), user, pq.Array(listenerIDs), dataJSON)
	if err != nil {
		return err
	}
	return b.insertOutboxEntry(ctx, tx, rt, changeID, operation, id, resourceRevision)
}

// interestedListeners returns the ids of all listeners of the resource type
// that want to be notified about the given operation, in stable order.
func (b *Backend) interestedListeners(tx *sql.Tx, rt *resourceType, operation core.Operation, id string) ([]string, error) {
	rows, err := tx.Query(fmt.Sprintf(`SELECT id, data FROM %s."%s" WHERE listen_on_type = $1 ORDER BY id;`,
		b.db.Schema, b.listenerType.table), rt.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var lid, dataJSON string
		if err := rows.Scan(&lid, &dataJSON); err != nil {
			return nil, err
		}
		var listener map[string]interface{}
		if err := json.Unmarshal([]byte(dataJSON), &listener); err != nil {
			return nil, err
		}
		if listensTo(listener, operation, id) {
			ids = append(ids, lid)
		}
	}
	return ids, rows.Err()
}

// listensTo decides whether a listener wants a notification for the given
// operation on the given resource. Creations go to listeners that ask for
// new resources, and to catch-all listeners that did not opt out of them.
// Updates and deletions go to catch-all listeners and to listeners watching
// the specific resource.
func listensTo(listener map[string]interface{}, operation core.Operation, id string) bool {
	notifyOnAll := listener["notify_on_all"] == true
	if operation == core.OperationCreate {
		if listener["notify_of_new"] == true {
			return true
		}
		return notifyOnAll && listener["notify_of_new"] != false
	}
	if notifyOnAll {
		return true
	}
	listenOn, _ := listener["listen_on"].([]interface{})
	for _, watched := range listenOn {
		if watched == id {
			return true
		}
	}
	return false
}

func (b *Backend) readFile(rt *resourceType, id, subpath string) ([]byte, string, string, error) {
	var contentType sql.NullString
	var blob []byte
	var external bool
	var revision string
	err := b.db.QueryRow(fmt.Sprintf(`SELECT f.content_type, f.blob, f.external, m.revision `+
		`FROM %s."%s" f JOIN %s."%s" m ON m.id = f.id WHERE f.id = $1 AND f.subpath = $2;`,
		b.db.Schema, rt.filesTable, b.db.Schema, rt.table), id, subpath).
		Scan(&contentType, &blob, &external, &revision)
	if err == csql.ErrNoRows {
		return nil, "", "", errItemDoesNotExist
	}
	if err != nil {
		return nil, "", "", err
	}
	if external {
		if b.blobStore == nil {
			return nil, "", "", fmt.Errorf("file %s/%s/%s is stored externally but no blob store is configured", rt.name, id, subpath)
		}
		blob, err = b.blobStore.Get(rt.name + "/" + id + "/" + subpath)
		if err != nil {
			return nil, "", "", err
		}
	}
	return blob, contentType.String, revision, nil
}

func (b *Backend) updateFile(ctx context.Context, rt *resourceType, id, subpath, revision, contentType string, blob []byte) (map[string]interface{}, error) {
	newRevision := newID(rt.name)
	external := b.blobStore != nil
	err := b.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(fmt.Sprintf(`UPDATE %s."%s" SET revision = $1 WHERE id = $2 AND revision = $3;`,
			b.db.Schema, rt.table), newRevision, id, revision)
		if err != nil {
			return err
		}
		if err := b.checkConditionalUpdate(tx, rt, id, revision, result); err != nil {
			return err
		}
		var stored interface{}
		if !external {
			stored = blob
		}
		_, err = tx.Exec(fmt.Sprintf(`INSERT INTO %s."%s"(id, subpath, content_type, blob, external) VALUES($1,$2,$3,$4,$5) `+
			`ON CONFLICT (id, subpath) DO UPDATE SET content_type = EXCLUDED.content_type, blob = EXCLUDED.blob, external = EXCLUDED.external;`,
			b.db.Schema, rt.filesTable), id, subpath, contentType, stored, external)
		if err != nil {
			return err
		}
		if external {
			if err := b.blobStore.Put(rt.name+"/"+id+"/"+subpath, contentType, blob); err != nil {
				return err
			}
		}
		return b.recordChange(ctx, tx, rt, core.OperationUpdate, id, newRevision, nil)
	})
	if err != nil {
		return nil, err
	}
	b.triggerNotification()
	return map[string]interface{}{"id": id, "revision": newRevision}, nil
}
