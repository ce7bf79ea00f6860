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
	"io"

	errs "github.com/xpqz/sovoc/errors"
)

// ChangeEntry is one row of a Changes stream.
type ChangeEntry struct {
	Seq     string `json:"seq"`
	ID      string `json:"id"`
	Rev     string `json:"rev"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Changes is a lazily-pulled cursor over the changes feed.
type Changes struct {
	rows  *sql.Rows
	chunk int
}

// Next scans the next entry into entry, or returns io.EOF once the
// stream is exhausted.
func (c *Changes) Next(entry *ChangeEntry) error {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return errs.Wrap(err, errs.StorageError, "iterate changes")
		}
		return io.EOF
	}
	var deleted int
	if err := c.rows.Scan(&entry.Seq, &entry.ID, &entry.Rev, &deleted); err != nil {
		return errs.Wrap(err, errs.StorageError, "scan change entry")
	}
	entry.Deleted = deleted != 0
	return nil
}

// Close releases the underlying cursor.
func (c *Changes) Close() error {
	return c.rows.Close()
}

// NextChunk pulls up to the stream's configured Chunk size worth of
// entries. It returns a shorter (or empty) slice once the
// stream is exhausted, with no error.
func (c *Changes) NextChunk() ([]ChangeEntry, error) {
	batch := make([]ChangeEntry, 0, c.chunk)
	for len(batch) < c.chunk {
		var entry ChangeEntry
		if err := c.Next(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		batch = append(batch, entry)
	}
	return batch, nil
}

// Changes streams ChangesView in ascending document-row-identity order.
// With no Seq option, every entry is emitted; with Seq(token), only
// entries whose row identity is strictly greater than the minimum row
// identity recorded under that token are emitted — i.e. resume after the
// batch identified by that token.
func (d *DB) Changes(ctx context.Context, opts ...Option) (*Changes, error) {
	p := applyOptions(opts)

	if p.seq != "" {
		known, err := d.seqExists(ctx, p.seq)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, errs.Statusf(errs.BadRequest, "unknown sequence token: %q", p.seq)
		}
	}

	var (
		rows *sql.Rows
		err  error
	)
	if p.seq != "" {
		rows, err = d.db.QueryContext(ctx, `
			SELECT seq, doc_id, rev_id, deleted
			FROM changes_feed
			WHERE row_id > (SELECT MIN(row_id) FROM changes WHERE seq = ?)
			ORDER BY row_id
		`, p.seq) //nolint:rowserrcheck // Err checked in Changes.Next
	} else {
		rows, err = d.db.QueryContext(ctx, `
			SELECT seq, doc_id, rev_id, deleted
			FROM changes_feed
			ORDER BY row_id
		`) //nolint:rowserrcheck // Err checked in Changes.Next
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "query changes feed")
	}
	return &Changes{rows: rows, chunk: p.chunk}, nil
}

// seqExists reports whether token was ever recorded as a sequence token,
// used by callers that want to validate a resume token before streaming.
func (d *DB) seqExists(ctx context.Context, token string) (bool, error) {
	var x int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM changes WHERE seq = ? LIMIT 1`, token).Scan(&x)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, errs.Wrap(err, errs.StorageError, "check sequence token")
	}
	return true, nil
}
