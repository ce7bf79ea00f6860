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
	"log"
	"time"
)

// params is the mutable bag an Option writes into.
type params struct {
	chunk       int
	keys        []string
	includeDocs bool
	conflicts   bool
	seq         string
	logger      *log.Logger
	busyTimeout time.Duration
}

func newParams() *params {
	return &params{
		chunk:       1000,
		busyTimeout: 5 * time.Second,
	}
}

// Option configures a call to Open, List, Changes, or Find.
type Option interface {
	apply(*params)
}

type optionFunc func(*params)

func (f optionFunc) apply(p *params) { f(p) }

// Chunk sets the streaming page size used by List, Changes, and Find.
// The default is 1000.
func Chunk(n int) Option {
	return optionFunc(func(p *params) {
		if n > 0 {
			p.chunk = n
		}
	})
}

// Keys restricts List to the given document ids.
func Keys(ids ...string) Option {
	return optionFunc(func(p *params) {
		p.keys = ids
	})
}

// IncludeDocs requests that List materialize each entry's document body.
func IncludeDocs() Option {
	return optionFunc(func(p *params) { p.includeDocs = true })
}

// Conflicts requests that List emit every open leaf rather than only the
// winner per document id. This is ignored unless
// IncludeDocs is also given.
func Conflicts() Option {
	return optionFunc(func(p *params) { p.conflicts = true })
}

// Seq resumes Changes after the batch tagged by the given sequence token.
func Seq(token string) Option {
	return optionFunc(func(p *params) { p.seq = token })
}

// WithLogger overrides the *log.Logger a DB uses for diagnostic output.
// The default is log.Default().
func WithLogger(l *log.Logger) Option {
	return optionFunc(func(p *params) { p.logger = l })
}

// BusyTimeout sets SQLite's busy_timeout pragma, applied once at Open
// time, so concurrent handles against the same file wait briefly for the
// writer's lock instead of failing immediately.
func BusyTimeout(d time.Duration) Option {
	return optionFunc(func(p *params) { p.busyTimeout = d })
}

func applyOptions(opts []Option) *params {
	p := newParams()
	for _, o := range opts {
		if o != nil {
			o.apply(p)
		}
	}
	return p
}
