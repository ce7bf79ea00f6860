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

package errors

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"testing"

	"gitlab.com/flimzy/testy"
)

func TestMarshalJSON(t *testing.T) {
	type test struct {
		err  *Error
		want string
	}

	tests := testy.NewTable()
	tests.Add("conflict", test{
		err:  Status(Conflict, "Document update conflict."),
		want: `{"error":"conflict","reason":"Document update conflict."}`,
	})
	tests.Add("not found", test{
		err:  Status(NotFound, "missing document: foo"),
		want: `{"error":"not_found","reason":"missing document: foo"}`,
	})
	tests.Add("storage error reports as error", test{
		err:  Status(StorageError, "disk full"),
		want: `{"error":"error","reason":"disk full"}`,
	})

	tests.Run(t, func(t *testing.T, tt test) {
		got, err := json.Marshal(tt.err)
		if err != nil {
			t.Fatalf("Marshal: %s", err)
		}
		if string(got) != tt.want {
			t.Errorf("MarshalJSON() = %s, want %s", got, tt.want)
		}
	})
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Status(Conflict, "x")); got != Conflict {
		t.Errorf("KindOf(Status(Conflict,...)) = %v, want Conflict", got)
	}
	if got := KindOf(io.EOF); got != StorageError {
		t.Errorf("KindOf(io.EOF) = %v, want StorageError", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	wrapped := Wrap(cause, StorageError, "read body")
	if wrapped == nil {
		t.Fatal("Wrap(non-nil) returned nil")
	}
	var se *Error
	if !stderrors.As(wrapped, &se) {
		t.Fatal("errors.As failed to find *Error")
	}
	if se.Kind != StorageError {
		t.Errorf("Kind = %v, want StorageError", se.Kind)
	}
	if Wrap(nil, StorageError, "x") != nil {
		t.Error("Wrap(nil, ...) should return nil")
	}
}

func TestIs(t *testing.T) {
	a := Status(Conflict, "one reason")
	b := Status(Conflict, "a different reason")
	if !stderrors.Is(a, b) {
		t.Error("two Conflict errors with different messages should be Is-equal")
	}
	c := Status(NotFound, "one reason")
	if stderrors.Is(a, c) {
		t.Error("errors of different Kind should not be Is-equal")
	}
}
