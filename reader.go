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
	"fmt"
	"io"
	"strings"

	errs "github.com/xpqz/sovoc/errors"
)

// Get returns the winner of id: among its non-deleted leaves, the one
// with the greatest generation, ties broken by the lexicographically
// greatest rev_id.
func (d *DB) Get(ctx context.Context, id string) (Doc, error) {
	var bodyStr string
	err := d.db.QueryRowContext(ctx, `
		SELECT body
		FROM documents
		WHERE doc_id = ? AND leaf = 1 AND deleted = 0
		ORDER BY generation DESC, rev_id DESC
		LIMIT 1
	`, id).Scan(&bodyStr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, errs.Statusf(errs.NotFound, "missing document: %s", id)
	case err != nil:
		return nil, errs.Wrap(err, errs.StorageError, "query winner")
	}
	return unmarshalDoc(bodyStr)
}

// GetRev returns exactly the named revision of id, or NotFound — the
// explicit answer to what an unknown revision means, rather than the
// ambiguous dead path a naive port of get(id, rev) would leave in.
func (d *DB) GetRev(ctx context.Context, id, rev string) (Doc, error) {
	if _, ok := parseRevision(rev); !ok {
		return nil, errs.Statusf(errs.NotFound, "missing revision: %s %s", id, rev)
	}
	var bodyStr string
	err := d.db.QueryRowContext(ctx, `
		SELECT body
		FROM documents
		WHERE doc_id = ? AND rev_id = ?
	`, id, rev).Scan(&bodyStr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, errs.Statusf(errs.NotFound, "missing revision: %s %s", id, rev)
	case err != nil:
		return nil, errs.Wrap(err, errs.StorageError, "query explicit revision")
	}
	return unmarshalDoc(bodyStr)
}

// OpenRevResult is one entry of OpenRevs: a document body annotated with
// its _revisions ancestry.
type OpenRevResult struct {
	OK Doc `json:"ok"`
}

// OpenRevs returns one entry per open (non-deleted, leaf) revision of id,
// each annotated with a _revisions object of the form
// {start: generation, ids: [hash, hash, ...]}, leaf-first.
func (d *DB) OpenRevs(ctx context.Context, id string) ([]OpenRevResult, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT row_id, generation, body
		FROM documents
		WHERE doc_id = ? AND leaf = 1 AND deleted = 0
		ORDER BY generation DESC, rev_id DESC
	`, id)
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "query open leaves")
	}
	defer rows.Close() //nolint:errcheck

	var results []OpenRevResult
	for rows.Next() {
		var (
			rowID int64
			gen   int
			body  string
		)
		if err := rows.Scan(&rowID, &gen, &body); err != nil {
			return nil, errs.Wrap(err, errs.StorageError, "scan open leaf")
		}
		doc, err := unmarshalDoc(body)
		if err != nil {
			return nil, err
		}
		ids, err := d.ancestorHashes(ctx, rowID)
		if err != nil {
			return nil, err
		}
		doc["_revisions"] = map[string]interface{}{
			"start": gen,
			"ids":   ids,
		}
		results = append(results, OpenRevResult{OK: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "iterate open leaves")
	}
	return results, nil
}

// ancestorHashes returns the hex-digest part of every ancestor of rowID,
// ordered from the row itself (depth 0) back to the root, via a single
// join against the closure table, rather than a recursive walk.
func (d *DB) ancestorHashes(ctx context.Context, rowID int64) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT substr(d.rev_id, instr(d.rev_id, '-') + 1)
		FROM ancestry a
		JOIN documents d ON d.row_id = a.ancestor
		WHERE a.descendant = ?
		ORDER BY d.generation DESC
	`, rowID)
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "query ancestor chain")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var revID string
		if err := rows.Scan(&revID); err != nil {
			return nil, errs.Wrap(err, errs.StorageError, "scan ancestor")
		}
		ids = append(ids, revID)
	}
	return ids, errs.Wrap(rows.Err(), errs.StorageError, "iterate ancestor chain")
}

// ListEntry is one row of a List stream.
type ListEntry struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
	Doc Doc    `json:"doc,omitempty"`
}

// Rows is a lazily-pulled cursor over a List stream: callers must Close
// or drain it before issuing a new write on the same handle.
type Rows struct {
	rows        *sql.Rows
	includeDocs bool
	chunk       int
}

// Close releases the underlying cursor.
func (r *Rows) Close() error {
	return r.rows.Close()
}

// NextChunk pulls up to the stream's configured Chunk size worth of
// entries, pulled lazily from the underlying cursor. It returns a shorter
// (or empty) slice once the stream is exhausted, with no error.
func (r *Rows) NextChunk() ([]ListEntry, error) {
	batch := make([]ListEntry, 0, r.chunk)
	for len(batch) < r.chunk {
		var entry ListEntry
		if err := r.Next(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		batch = append(batch, entry)
	}
	return batch, nil
}

// List enumerates current leaves: if Conflicts was not given, one winner
// entry per document id; if Conflicts was given (and IncludeDocs too —
// otherwise Conflicts is ignored), every open (non-deleted) leaf. Keys
// restricts the scan to a given set of document ids.
func (d *DB) List(ctx context.Context, opts ...Option) (*Rows, error) {
	p := applyOptions(opts)
	conflicts := p.conflicts && p.includeDocs

	selectCols := "d.doc_id, d.rev_id"
	if p.includeDocs {
		selectCols += ", d.body"
	}

	var (
		keyFilter string
		args      []interface{}
	)
	if len(p.keys) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(p.keys)), ",")
		keyFilter = fmt.Sprintf(" AND d.doc_id IN (%s)", placeholders)
		for _, k := range p.keys {
			args = append(args, k)
		}
	}

	var query string
	if conflicts {
		query = fmt.Sprintf(`
			SELECT %s
			FROM documents d
			WHERE d.leaf = 1 AND d.deleted = 0%s
			ORDER BY d.doc_id, d.generation DESC, d.rev_id DESC
		`, selectCols, keyFilter)
	} else {
		query = fmt.Sprintf(`
			SELECT %s
			FROM documents d
			WHERE d.leaf = 1 AND d.deleted = 0%s
			  AND NOT EXISTS (
			    SELECT 1 FROM documents d2
			    WHERE d2.doc_id = d.doc_id AND d2.leaf = 1 AND d2.deleted = 0
			      AND (d2.generation > d.generation
			           OR (d2.generation = d.generation AND d2.rev_id > d.rev_id))
			  )
			ORDER BY d.doc_id
		`, selectCols, keyFilter)
	}

	sqlRows, err := d.db.QueryContext(ctx, query, args...) //nolint:rowserrcheck // Err checked in Rows.Next
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "query list")
	}
	return &Rows{rows: sqlRows, includeDocs: p.includeDocs, chunk: p.chunk}, nil
}

// Next scans the next entry into entry, or returns io.EOF once the
// stream is exhausted.
func (r *Rows) Next(entry *ListEntry) error {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return errs.Wrap(err, errs.StorageError, "iterate rows")
		}
		return io.EOF
	}
	var body string
	entry.Doc = nil
	if r.includeDocs {
		if err := r.rows.Scan(&entry.ID, &entry.Rev, &body); err != nil {
			return errs.Wrap(err, errs.StorageError, "scan row")
		}
		doc, err := unmarshalDoc(body)
		if err != nil {
			return err
		}
		entry.Doc = doc
	} else {
		if err := r.rows.Scan(&entry.ID, &entry.Rev); err != nil {
			return errs.Wrap(err, errs.StorageError, "scan row")
		}
	}
	return nil
}

func unmarshalDoc(body string) (Doc, error) {
	var doc Doc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "unmarshal document body")
	}
	return doc, nil
}
