// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package sovoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	errs "github.com/xpqz/sovoc/errors"
)

// Doc is a document body. Like a real CouchDB document, it may carry its
// own _id, _rev, and _deleted fields; Insert/Update/Bulk/Destroy read and
// overwrite those on write.
type Doc = map[string]interface{}

// WriteResult is the outcome of a successful write: {ok:true, id, rev}.
type WriteResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// Insert creates a root revision if doc carries no _rev, or a child of
// (_id, _rev) otherwise.
func (d *DB) Insert(ctx context.Context, doc Doc) (WriteResult, error) {
	results, err := d.Bulk(ctx, []Doc{doc})
	if err != nil {
		return WriteResult{}, err
	}
	return results[0], nil
}

// Update is an alias of Insert that requires doc to already carry an
// _id, failing BadRequest otherwise.
func (d *DB) Update(ctx context.Context, doc Doc) (WriteResult, error) {
	id, _ := doc["_id"].(string)
	if id == "" {
		return WriteResult{}, errs.Status(errs.BadRequest, "Update requires _id")
	}
	return d.Insert(ctx, doc)
}

// Destroy writes a child of (id, rev) with an empty body and _deleted=1
// rather than removing any row.
func (d *DB) Destroy(ctx context.Context, id, rev string) (WriteResult, error) {
	return d.Insert(ctx, Doc{"_id": id, "_rev": rev, "_deleted": true})
}

// Bulk performs a single-transaction, multi-document write: every
// document shares one sequence token, and a conflict anywhere in the
// batch rolls back the whole transaction.
func (d *DB) Bulk(ctx context.Context, docs []Doc) ([]WriteResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	seq := newSeqToken()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "begin write transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	results := make([]WriteResult, 0, len(docs))
	for _, doc := range docs {
		res, err := writeOne(ctx, tx, seq, doc)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "commit write transaction")
	}
	return results, nil
}

// writeOne implements the per-document write algorithm, inside an
// already-open transaction.
func writeOne(ctx context.Context, tx *sql.Tx, seq string, doc Doc) (WriteResult, error) {
	docID, _ := doc["_id"].(string)
	revStr, hasRev := doc["_rev"].(string)
	deleted, _ := doc["_deleted"].(bool)

	if hasRev && revStr != "" && docID == "" {
		return WriteResult{}, errs.Status(errs.BadRequest, "_rev given without _id")
	}

	generation := 1
	var parentRow int64
	hasParent := false

	if docID == "" {
		docID = newDocID()
	}

	if hasRev && revStr != "" {
		var parentGen int
		err := tx.QueryRowContext(ctx, `
			SELECT row_id, generation
			FROM documents
			WHERE doc_id = ? AND rev_id = ? AND deleted = 0
		`, docID, revStr).Scan(&parentRow, &parentGen)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return WriteResult{}, errs.Status(errs.Conflict, "Document update conflict.")
		case err != nil:
			return WriteResult{}, errs.Wrap(err, errs.StorageError, "look up parent revision")
		}
		generation = parentGen + 1
		hasParent = true
	}

	newRevID, err := revID(generation, doc)
	if err != nil {
		return WriteResult{}, errs.Wrap(err, errs.BadRequest, "compute revision id")
	}

	body := make(Doc, len(doc)+3)
	for k, v := range doc {
		if k == "_id" || k == "_rev" || k == "_deleted" {
			continue
		}
		body[k] = v
	}
	body["_id"] = docID
	body["_rev"] = newRevID
	if deleted {
		body["_deleted"] = true
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return WriteResult{}, errs.Wrap(err, errs.BadRequest, "marshal document body")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (doc_id, rev_id, generation, deleted, leaf, body)
		VALUES (?, ?, ?, ?, 1, ?)
	`, docID, newRevID, generation, boolToInt(deleted), string(bodyJSON))
	if err != nil {
		if isUniqueConstraint(err) {
			// (doc_id, rev_id) already present: idempotent replay. Skip the
			// closure-table and changes-feed updates; they were already
			// performed by the write that first created this row.
			return WriteResult{OK: true, ID: docID, Rev: newRevID}, nil
		}
		return WriteResult{}, errs.Wrap(err, errs.StorageError, "insert document row")
	}

	newRowID, err := res.LastInsertId()
	if err != nil {
		return WriteResult{}, errs.Wrap(err, errs.StorageError, "read new row id")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ancestry (ancestor, descendant, depth) VALUES (?, ?, 0)
	`, newRowID, newRowID); err != nil {
		return WriteResult{}, errs.Wrap(err, errs.StorageError, "insert self-edge")
	}

	if hasParent {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ancestry (ancestor, descendant, depth)
			SELECT ancestor, ?, depth + 1 FROM ancestry WHERE descendant = ?
		`, newRowID, parentRow); err != nil {
			return WriteResult{}, errs.Wrap(err, errs.StorageError, "extend closure table")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET leaf = 0 WHERE row_id = ?
		`, parentRow); err != nil {
			return WriteResult{}, errs.Wrap(err, errs.StorageError, "demote parent leaf flag")
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO changes (row_id, seq) VALUES (?, ?)
	`, newRowID, seq); err != nil {
		return WriteResult{}, errs.Wrap(err, errs.StorageError, "append change entry")
	}

	return WriteResult{OK: true, ID: docID, Rev: newRevID}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraint reports whether err is a SQLite UNIQUE constraint
// violation, indicating an idempotent replay of an existing (doc_id, rev_id)
// pair.
func isUniqueConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
