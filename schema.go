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
)

// schema is the DDL for the revision graph: a slice of standalone
// statements executed in order inside one transaction. Table names are
// fixed, since sovoc opens one database per file and so has no need to
// template per-database table names.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		row_id     INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id     TEXT NOT NULL,
		rev_id     TEXT NOT NULL,
		generation INTEGER NOT NULL CHECK (generation > 0),
		deleted    INTEGER NOT NULL DEFAULT 0 CHECK (deleted IN (0,1)),
		leaf       INTEGER NOT NULL DEFAULT 1 CHECK (leaf IN (0,1)),
		body       TEXT NOT NULL,
		UNIQUE (doc_id, rev_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_doc_id ON documents (doc_id)`,
	`CREATE TABLE IF NOT EXISTS ancestry (
		ancestor   INTEGER NOT NULL REFERENCES documents(row_id),
		descendant INTEGER NOT NULL REFERENCES documents(row_id),
		depth      INTEGER NOT NULL CHECK (depth >= 0),
		UNIQUE (ancestor, descendant)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ancestry_descendant ON ancestry (descendant)`,
	`CREATE TABLE IF NOT EXISTS changes (
		row_id INTEGER NOT NULL REFERENCES documents(row_id),
		seq    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_changes_seq ON changes (seq)`,
	`CREATE VIEW IF NOT EXISTS changes_feed AS
		SELECT c.seq AS seq, d.row_id AS row_id, d.deleted AS deleted, d.doc_id AS doc_id, d.generation AS generation, d.rev_id AS rev_id
		FROM changes c
		JOIN documents d ON c.row_id = d.row_id
		ORDER BY d.row_id`,
}

// createSchema creates the Document, AncestryEdge, ChangeEntry, and
// ChangesView objects idempotently, inside tx.
func createSchema(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
