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
)

func drainChanges(c *Changes) ([]ChangeEntry, error) {
	var out []ChangeEntry
	for {
		var entry ChangeEntry
		err := c.Next(&entry)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
}

// S4 — changes resume.
func TestChangesResume(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := db.Insert(ctx, Doc{"n": i}); err != nil {
			t.Fatalf("insert %d: %s", i, err)
		}
	}

	all, err := db.Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %s", err)
	}
	entries, err := drainChanges(all)
	if err != nil {
		t.Fatalf("drain: %s", err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}

	token := entries[2].Seq

	resumed, err := db.Changes(ctx, Seq(token))
	if err != nil {
		t.Fatalf("Changes(Seq): %s", err)
	}
	tail, err := drainChanges(resumed)
	if err != nil {
		t.Fatalf("drain resumed: %s", err)
	}
	if len(tail) != 2 {
		t.Fatalf("resumed from entry 2 of 5: got %d entries, want 2", len(tail))
	}
}

// Invariant 6: changes monotonicity.
func TestChangesMonotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ids := make([]string, 4)
	for i := 0; i < 4; i++ {
		res, err := db.Insert(ctx, Doc{"n": i})
		if err != nil {
			t.Fatalf("insert %d: %s", i, err)
		}
		ids[i] = res.ID
	}

	stream, err := db.Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %s", err)
	}
	entries, err := drainChanges(stream)
	if err != nil {
		t.Fatalf("drain: %s", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ID == "" || e.Rev == "" {
			t.Errorf("incomplete entry: %+v", e)
		}
		if e.ID != ids[i] {
			t.Errorf("entry %d has id %q, want %q (insertion order)", i, e.ID, ids[i])
		}
		seen[e.ID] = true
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 distinct document ids, got %d", len(seen))
	}
}

func TestChangesDeletedFlag(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r1, err := db.Insert(ctx, Doc{"name": "bob"})
	if err != nil {
		t.Fatalf("insert: %s", err)
	}
	if _, err := db.Destroy(ctx, r1.ID, r1.Rev); err != nil {
		t.Fatalf("destroy: %s", err)
	}

	stream, err := db.Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %s", err)
	}
	entries, err := drainChanges(stream)
	if err != nil {
		t.Fatalf("drain: %s", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Deleted {
		t.Errorf("root entry should not be marked deleted")
	}
	if !entries[1].Deleted {
		t.Errorf("tombstone entry should be marked deleted")
	}
}

func TestNextChunkRespectsSize(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := db.Insert(ctx, Doc{"n": i}); err != nil {
			t.Fatalf("insert %d: %s", i, err)
		}
	}

	stream, err := db.Changes(ctx, Chunk(2))
	if err != nil {
		t.Fatalf("Changes: %s", err)
	}
	defer stream.Close()

	first, err := stream.NextChunk()
	if err != nil {
		t.Fatalf("NextChunk: %s", err)
	}
	if len(first) != 2 {
		t.Fatalf("first chunk has %d entries, want 2", len(first))
	}

	second, err := stream.NextChunk()
	if err != nil {
		t.Fatalf("NextChunk: %s", err)
	}
	if len(second) != 2 {
		t.Fatalf("second chunk has %d entries, want 2", len(second))
	}

	last, err := stream.NextChunk()
	if err != nil {
		t.Fatalf("NextChunk: %s", err)
	}
	if len(last) != 1 {
		t.Fatalf("final chunk has %d entries, want 1", len(last))
	}
}
