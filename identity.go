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
	"crypto/md5" //nolint:gosec // content digest, not a security boundary
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// newDocID generates a 32-hex document id, matching the conventional
// uuid4-hex id format used by CouchDB document ids.
func newDocID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// newSeqToken generates the opaque 32-hex sequence token a write
// transaction tags all of its rows with.
func newSeqToken() string {
	return newDocID()
}

// revID computes the revision id for a new document at the given
// generation: it removes _id and _rev from body, canonicalizes what's
// left, and formats "{generation}-{digest}".
//
// Canonicalization relies on encoding/json's documented behavior of
// emitting map[string]interface{} keys in sorted order: marshaling the
// same logical object twice, regardless of the original key order it was
// built in, produces byte-identical output. That is exactly the
// stability the revision digest requires: ordering of body fields must
// not affect the digest. No separate canonical-JSON library is needed
// (see DESIGN.md).
func revID(generation int, body map[string]interface{}) (string, error) {
	clean := make(map[string]interface{}, len(body))
	for k, v := range body {
		if k == "_id" || k == "_rev" {
			continue
		}
		clean[k] = v
	}
	canonical, err := json.Marshal(clean)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(canonical) //nolint:gosec
	return fmt.Sprintf("%d-%x", generation, sum), nil
}

// revision is a parsed "{generation}-{hex}" revision id.
type revision struct {
	generation int
	id         string
}

func (r revision) String() string {
	return strconv.Itoa(r.generation) + "-" + r.id
}

func parseRevision(s string) (revision, bool) {
	i := strings.IndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return revision{}, false
	}
	gen, err := strconv.Atoi(s[:i])
	if err != nil || gen < 1 {
		return revision{}, false
	}
	return revision{generation: gen, id: s[i+1:]}, true
}
