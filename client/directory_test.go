// Copyright 2025 Ekjot Singh
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	. "github.com/pingcap/check"
	"github.com/pingcap/errors"

	"github.com/brahmabase/tablestore/kv"
	"github.com/brahmabase/tablestore/table"
)

type testDirectorySuite struct{}

var _ = Suite(&testDirectorySuite{})

func makeLocation(tableName, start, end string, id uint64) RegionLocation {
	desc := table.NewTableDescriptor(tableName, "col:")
	info := table.NewRegionInfo(*desc, kv.Key(start), kv.Key(end), id)
	return RegionLocation{Info: info, Addr: "server0"}
}

func makeDirectory(tableName string, splits ...string) *tableDirectory {
	dir := newTableDirectory()
	starts := append([]string{""}, splits...)
	for i, start := range starts {
		end := ""
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		dir.insert(makeLocation(tableName, start, end, uint64(i+1)))
	}
	return dir
}

func (s *testDirectorySuite) TestFloor(c *C) {
	dir := makeDirectory("t", "h", "p")

	for _, tt := range []struct {
		row   string
		start string
	}{
		{"", ""},
		{"a", ""},
		{"g\xff", ""},
		{"h", "h"},
		{"o", "h"},
		{"p", "p"},
		{"zzz", "p"},
	} {
		loc, ok := dir.floor(kv.Key(tt.row))
		c.Assert(ok, IsTrue)
		c.Assert(string(loc.Info.StartKey), Equals, tt.start)
		c.Assert(loc.Info.Contains(kv.Key(tt.row)), IsTrue)
	}
}

func (s *testDirectorySuite) TestTailFrom(c *C) {
	dir := makeDirectory("t", "h", "p")

	locs := dir.tailFrom(nil)
	c.Assert(locs, HasLen, 3)
	c.Assert(locs[0].Info.StartKey, HasLen, 0)
	c.Assert(string(locs[1].Info.StartKey), Equals, "h")
	c.Assert(string(locs[2].Info.StartKey), Equals, "p")

	locs = dir.tailFrom(kv.Key("j"))
	c.Assert(locs, HasLen, 2)
	c.Assert(string(locs[0].Info.StartKey), Equals, "h")

	locs = dir.tailFrom(kv.Key("q"))
	c.Assert(locs, HasLen, 1)
	c.Assert(string(locs[0].Info.StartKey), Equals, "p")
}

func (s *testDirectorySuite) TestLookupRequiresInstall(c *C) {
	cache := newRegionDirectory()
	_, err := cache.lookup([]byte("t"), []byte("a"))
	c.Assert(errors.Cause(err), Equals, ErrTableNotOpen)

	cache.install([]byte("t"), makeDirectory("t", "m"))
	loc, err := cache.lookup([]byte("t"), []byte("a"))
	c.Assert(err, IsNil)
	c.Assert(loc.Info.StartKey, HasLen, 0)
	loc, err = cache.lookup([]byte("t"), []byte("x"))
	c.Assert(err, IsNil)
	c.Assert(string(loc.Info.StartKey), Equals, "m")
}

func (s *testDirectorySuite) TestInstallReplacesWholesale(c *C) {
	cache := newRegionDirectory()
	cache.install([]byte("t"), makeDirectory("t", "m"))
	cache.install([]byte("t"), makeDirectory("t"))
	locs, err := cache.snapshot([]byte("t"), nil)
	c.Assert(err, IsNil)
	c.Assert(locs, HasLen, 1)
}

func (s *testDirectorySuite) TestInvalidate(c *C) {
	cache := newRegionDirectory()
	cache.install([]byte("t"), makeDirectory("t", "m"))
	c.Assert(cache.cached([]byte("t")), IsTrue)

	cache.invalidate([]byte("t"))
	c.Assert(cache.cached([]byte("t")), IsFalse)
	_, err := cache.lookup([]byte("t"), []byte("a"))
	c.Assert(errors.Cause(err), Equals, ErrTableNotOpen)
}

func (s *testDirectorySuite) TestInvalidateRegion(c *C) {
	cache := newRegionDirectory()
	cache.install([]byte("t"), makeDirectory("t", "m"))
	loc, err := cache.lookup([]byte("t"), []byte("x"))
	c.Assert(err, IsNil)

	// One stale entry condemns the table's whole directory.
	cache.invalidateRegion(loc)
	c.Assert(cache.cached([]byte("t")), IsFalse)
}
