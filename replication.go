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
	"errors"

	errs "github.com/xpqz/sovoc/errors"
)

// GetResult is one entry of a Fetch batch: either a successfully
// retrieved winner or the error that prevented it.
type GetResult struct {
	ID  string
	Doc Doc
	Err error
}

// Fetch is the bulk counterpart of Get: one winner lookup per id,
// each run as its own query, all inside a single transaction.
func (d *DB) Fetch(ctx context.Context, ids []string) ([]GetResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "begin fetch transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	results := make([]GetResult, len(ids))
	for i, id := range ids {
		var bodyStr string
		err := tx.QueryRowContext(ctx, `
			SELECT body
			FROM documents
			WHERE doc_id = ? AND leaf = 1 AND deleted = 0
			ORDER BY generation DESC, rev_id DESC
			LIMIT 1
		`, id).Scan(&bodyStr)
		if errors.Is(err, sql.ErrNoRows) {
			results[i] = GetResult{ID: id, Err: errs.Statusf(errs.NotFound, "missing document: %s", id)}
			continue
		}
		if err != nil {
			results[i] = GetResult{ID: id, Err: errs.Wrap(err, errs.StorageError, "query winner")}
			continue
		}
		doc, err := unmarshalDoc(bodyStr)
		if err != nil {
			results[i] = GetResult{ID: id, Err: err}
			continue
		}
		results[i] = GetResult{ID: id, Doc: doc}
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "commit fetch transaction")
	}
	return results, nil
}

// RevsDiff reports, among the candidate revs of id, which are missing
// from the local revision set and, for each missing revision, the local
// revision of id with the highest lower generation (if any) as a possible
// ancestor — the Go rendering of
// CouchDB's _revs_diff, used during replication to avoid re-sending
// revisions a peer already holds.
func (d *DB) RevsDiff(ctx context.Context, id string, revs []string) (missing, possibleAncestors []string, err error) {
	for _, r := range revs {
		parsed, ok := parseRevision(r)
		if !ok {
			return nil, nil, errs.Statusf(errs.BadRequest, "malformed revision id: %q", r)
		}

		var x int
		scanErr := d.db.QueryRowContext(ctx, `
			SELECT 1 FROM documents WHERE doc_id = ? AND rev_id = ? LIMIT 1
		`, id, r).Scan(&x)
		switch {
		case scanErr == nil:
			continue // present locally
		case errors.Is(scanErr, sql.ErrNoRows):
			missing = append(missing, r)
		default:
			return nil, nil, errs.Wrap(scanErr, errs.StorageError, "check local revision")
		}

		var ancestorRev string
		ancestorErr := d.db.QueryRowContext(ctx, `
			SELECT d.rev_id
			FROM documents d
			WHERE d.doc_id = ? AND d.generation < ?
			ORDER BY d.generation DESC
			LIMIT 1
		`, id, parsed.generation).Scan(&ancestorRev)
		if ancestorErr == nil {
			possibleAncestors = append(possibleAncestors, ancestorRev)
		}
	}
	return missing, possibleAncestors, nil
}
