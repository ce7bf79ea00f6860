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
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	serrors "github.com/xpqz/sovoc/errors"
)

func drainFind(rows *FindRows) ([]Doc, error) {
	var out []Doc
	for {
		var entry Doc
		err := rows.Next(&entry)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
}

// S6 — selector.
func TestFindSelector(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	titles := []string{"abc", "def", "ghi", "jkl", "mno", "pqr", "stu", "vwx"}
	years := []int{2005, 2006, 2010, 2010, 2011, 2012, 2013, 2014}

	docs := make([]Doc, len(titles))
	for i := range titles {
		docs[i] = Doc{"title": titles[i], "year": years[i]}
	}
	if _, err := db.Bulk(ctx, docs); err != nil {
		t.Fatalf("Bulk: %s", err)
	}

	rows, err := db.Find(ctx, Query{
		Selector: map[string]interface{}{"year": 2010, "title": "ghi"},
		Fields:   []string{"_id", "_rev", "year", "title"},
		Sort:     []SortTerm{{Field: "year", Direction: "asc"}},
	})
	if err != nil {
		t.Fatalf("Find: %s", err)
	}
	defer rows.Close()

	results, err := drainFind(rows)
	if err != nil {
		t.Fatalf("drain: %s", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d rows, want 1", len(results))
	}
	want := Doc{"_id": results[0]["_id"], "_rev": results[0]["_rev"], "year": int64(2010), "title": "ghi"}
	if d := cmp.Diff(want, results[0]); d != "" {
		t.Errorf("unexpected row (-want +got):\n%s", d)
	}
}

// S7 — nested selector and comparison operator.
func TestFindNestedAndOperator(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ratings := []int{1, 2, 3, 4, 5, 6, 7, 8}
	docs := make([]Doc, len(ratings))
	for i, r := range ratings {
		docs[i] = Doc{
			"year":   2000 + i,
			"rating": map[string]interface{}{"imdb": r},
		}
	}
	if _, err := db.Bulk(ctx, docs); err != nil {
		t.Fatalf("Bulk: %s", err)
	}

	nested, err := db.Find(ctx, Query{
		Selector: map[string]interface{}{"rating": map[string]interface{}{"imdb": 6}},
		Fields:   []string{"_id", "year"},
	})
	if err != nil {
		t.Fatalf("Find (nested): %s", err)
	}
	defer nested.Close()
	nestedResults, err := drainFind(nested)
	if err != nil {
		t.Fatalf("drain: %s", err)
	}
	if len(nestedResults) != 1 {
		t.Fatalf("got %d rows, want 1", len(nestedResults))
	}

	gt, err := db.Find(ctx, Query{
		Selector: map[string]interface{}{"year": map[string]interface{}{"$gt": 2004}},
		Fields:   []string{"_id", "year"},
	})
	if err != nil {
		t.Fatalf("Find ($gt): %s", err)
	}
	defer gt.Close()
	gtResults, err := drainFind(gt)
	if err != nil {
		t.Fatalf("drain: %s", err)
	}
	if len(gtResults) != 3 {
		t.Fatalf("got %d rows matching year > 2004, want 3", len(gtResults))
	}
}

// Invariant 8: selector safety.
func TestFindRejectsBadFieldNames(t *testing.T) {
	_, _, err := Compile(Query{
		Selector: map[string]interface{}{"name; DROP TABLE documents;--": "x"},
		Fields:   []string{"_id"},
	})
	if serrors.KindOf(err) != serrors.BadSelector {
		t.Fatalf("Compile with injected field name: err = %v, want BadSelector", err)
	}
}

func TestFindRejectsUnknownOperator(t *testing.T) {
	_, _, err := Compile(Query{
		Selector: map[string]interface{}{"year": map[string]interface{}{"$bogus": 1}},
		Fields:   []string{"_id", "year"},
	})
	if serrors.KindOf(err) != serrors.BadSelector {
		t.Fatalf("Compile with unknown operator: err = %v, want BadSelector", err)
	}
}

func TestFindRejectsBadSortDirection(t *testing.T) {
	_, _, err := Compile(Query{
		Fields: []string{"_id"},
		Sort:   []SortTerm{{Field: "year", Direction: "sideways"}},
	})
	if serrors.KindOf(err) != serrors.BadSelector {
		t.Fatalf("Compile with bad sort direction: err = %v, want BadSelector", err)
	}
}

func TestCompileAssembliesStatement(t *testing.T) {
	stmt, args, err := Compile(Query{
		Selector: map[string]interface{}{"year": 2010},
		Fields:   []string{"_id", "year"},
		Sort:     []SortTerm{{Field: "year", Direction: "DESC"}},
	})
	if err != nil {
		t.Fatalf("Compile: %s", err)
	}
	const want = `SELECT json_extract(body, "$._id") AS _id, json_extract(body, "$.year") AS year FROM documents WHERE year = ? ORDER BY year DESC`
	if stmt != want {
		t.Errorf("Compile() stmt =\n%s\nwant\n%s", stmt, want)
	}
	if len(args) != 1 || args[0] != 2010 {
		t.Errorf("Compile() args = %v, want [2010]", args)
	}
}
