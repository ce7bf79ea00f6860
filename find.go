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
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	errs "github.com/xpqz/sovoc/errors"
)

// fieldNameRE is the allow-list every field name is checked against before
// it is copied into query text: a dotted chain of identifiers, nothing
// else.
var fieldNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

var sqlOperator = map[string]string{
	"$eq":  "=",
	"$ne":  "!=",
	"$lt":  "<",
	"$lte": "<=",
	"$gt":  ">",
	"$gte": ">=",
}

// SortTerm is one entry of a Query's sort list.
type SortTerm struct {
	Field     string
	Direction string // "asc" or "desc", case-insensitive
}

// Query is a selector/projection/sort AST.
// Selector values are either scalars, operator maps (keys beginning
// "$"), or nested non-operator maps, recursively.
type Query struct {
	Selector map[string]interface{}
	Fields   []string
	Sort     []SortTerm
}

// termKind tags how a single compiled predicate was derived, so the
// compiler works over an explicit tagged variant rather than repeated
// runtime type inspection.
type termKind int

const (
	termScalar termKind = iota
	termOperator
	termNested
)

type term struct {
	kind  termKind
	sql   string
	value interface{}
}

// compiler turns a Query into a parameterized SQL statement, building an
// explicit tagged-term list rather than branching on ad hoc runtime type
// switches.
type compiler struct {
	fieldSet map[string]bool
	fields   []string
	terms    []term
	order    []string
}

// Compile builds the "SELECT ... FROM documents [WHERE ...] [ORDER BY
// ...]" statement and its positional arguments for q, or a BadSelector
// error if the AST is malformed.
func Compile(q Query) (string, []interface{}, error) {
	c := &compiler{fieldSet: make(map[string]bool, len(q.Fields))}

	if err := c.compileFields(q.Fields); err != nil {
		return "", nil, err
	}
	if err := c.compileSelector(q.Selector); err != nil {
		return "", nil, err
	}
	if err := c.compileSort(q.Sort); err != nil {
		return "", nil, err
	}

	fieldStr := "*"
	if len(c.fields) > 0 {
		fieldStr = strings.Join(c.fields, ", ")
	}

	stmt := fmt.Sprintf("SELECT %s FROM documents", fieldStr)
	if len(c.terms) > 0 {
		clauses := make([]string, len(c.terms))
		for i, t := range c.terms {
			clauses[i] = t.sql
		}
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	if len(c.order) > 0 {
		stmt += " ORDER BY " + strings.Join(c.order, ", ")
	}

	args := make([]interface{}, len(c.terms))
	for i, t := range c.terms {
		args[i] = t.value
	}
	return stmt, args, nil
}

func (c *compiler) compileFields(fields []string) error {
	for _, f := range fields {
		if err := validateField(f); err != nil {
			return err
		}
		c.fieldSet[f] = true
		c.fields = append(c.fields, fmt.Sprintf(`json_extract(body, "$.%s") AS %s`, f, f))
	}
	return nil
}

// compileSelector walks selector recursively, emitting one term per leaf
// predicate, in a deterministic (sorted-key) order so the same selector
// always compiles to the same SQL text.
func (c *compiler) compileSelector(selector map[string]interface{}) error {
	return c.walk(selector, "")
}

func (c *compiler) walk(node map[string]interface{}, prefix string) error {
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := node[key]
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		m, isMap := val.(map[string]interface{})
		if !isMap {
			t, err := c.scalarTerm(path, val)
			if err != nil {
				return err
			}
			c.terms = append(c.terms, t)
			continue
		}

		if isOperatorMap(m) {
			t, err := c.operatorTerms(path, m)
			if err != nil {
				return err
			}
			c.terms = append(c.terms, t...)
			continue
		}

		if err := c.walk(m, path); err != nil {
			return err
		}
	}
	return nil
}

func isOperatorMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func (c *compiler) scalarTerm(path string, value interface{}) (term, error) {
	if err := validateField(path); err != nil {
		return term{}, err
	}
	expr := c.columnExpr(path)
	return term{kind: termScalar, sql: expr + " = ?", value: value}, nil
}

func (c *compiler) operatorTerms(path string, ops map[string]interface{}) ([]term, error) {
	if err := validateField(path); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	expr := c.columnExpr(path)
	terms := make([]term, 0, len(ops))
	for _, k := range keys {
		op, ok := sqlOperator[k]
		if !ok {
			return nil, errs.Statusf(errs.BadSelector, "unknown operator: %q", k)
		}
		terms = append(terms, term{kind: termOperator, sql: expr + " " + op + " ?", value: ops[k]})
	}
	return terms, nil
}

// columnExpr returns the aliased column if path was already projected,
// or a fresh json_extract otherwise.
func (c *compiler) columnExpr(path string) string {
	if c.fieldSet[path] {
		return path
	}
	return fmt.Sprintf(`json_extract(body, "$.%s")`, path)
}

func (c *compiler) compileSort(sortTerms []SortTerm) error {
	for _, s := range sortTerms {
		if err := validateField(s.Field); err != nil {
			return err
		}
		dir := strings.ToUpper(s.Direction)
		if dir != "ASC" && dir != "DESC" {
			return errs.Statusf(errs.BadSelector, "invalid sort direction: %q", s.Direction)
		}
		c.order = append(c.order, s.Field+" "+dir)
	}
	return nil
}

func validateField(field string) error {
	if field != "_id" && field != "_rev" && !fieldNameRE.MatchString(field) {
		return errs.Statusf(errs.BadSelector, "invalid field name: %q", field)
	}
	return nil
}

// FindRows is a lazily-pulled cursor over a Find result set.
type FindRows struct {
	rows   *sql.Rows
	fields []string
	chunk  int
}

// Close releases the underlying cursor.
func (r *FindRows) Close() error {
	return r.rows.Close()
}

// NextChunk pulls up to the stream's configured Chunk size worth of
// projected rows.
// It returns a shorter (or empty) slice once the stream is exhausted,
// with no error.
func (r *FindRows) NextChunk() ([]Doc, error) {
	batch := make([]Doc, 0, r.chunk)
	for len(batch) < r.chunk {
		var entry Doc
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

// Next scans the next projected row into entry (keyed by the fields
// given in the originating Query), or returns io.EOF at end of stream.
func (r *FindRows) Next(entry *Doc) error {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return errs.Wrap(err, errs.StorageError, "iterate find results")
		}
		return io.EOF
	}
	cols := make([]interface{}, len(r.fields))
	vals := make([]interface{}, len(r.fields))
	for i := range cols {
		cols[i] = &vals[i]
	}
	if err := r.rows.Scan(cols...); err != nil {
		return errs.Wrap(err, errs.StorageError, "scan find row")
	}
	result := make(Doc, len(r.fields))
	for i, f := range r.fields {
		result[f] = normalizeSQLValue(vals[i])
	}
	*entry = result
	return nil
}

// normalizeSQLValue coerces a driver value (the modernc.org/sqlite driver
// hands back []byte for TEXT columns) into a plain JSON-friendly value.
func normalizeSQLValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Find compiles q and streams matching documents.
func (d *DB) Find(ctx context.Context, q Query, opts ...Option) (*FindRows, error) {
	stmt, args, err := Compile(q)
	if err != nil {
		return nil, err
	}

	fields := q.Fields
	if len(fields) == 0 {
		return nil, errs.Status(errs.BadSelector, "query must name at least one field")
	}

	p := applyOptions(opts)

	sqlRows, err := d.db.QueryContext(ctx, stmt, args...) //nolint:rowserrcheck // Err checked in FindRows.Next
	if err != nil {
		return nil, errs.Wrap(err, errs.StorageError, "execute find query")
	}
	return &FindRows{rows: sqlRows, fields: fields, chunk: p.chunk}, nil
}
