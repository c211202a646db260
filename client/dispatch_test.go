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
	"time"

	. "github.com/pingcap/check"
	"github.com/pingcap/errors"

	"github.com/brahmabase/tablestore/mockcluster"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/table"
)

type testDispatchSuite struct {
	cluster *mockcluster.Cluster
	client  *Client
}

var _ = Suite(&testDispatchSuite{})

func (s *testDispatchSuite) SetUpTest(c *C) {
	s.cluster = mockcluster.NewCluster(3)
	s.client = newTestClient(c, s.cluster)
	s.cluster.CreateTable(table.NewTableDescriptor("t1", "col:"), []byte("m"))
	c.Assert(s.client.OpenTable([]byte("t1")), IsNil)
}

func (s *testDispatchSuite) TearDownTest(c *C) {
	c.Assert(s.client.Close(), IsNil)
}

func (s *testDispatchSuite) TestStaleDispatch(c *C) {
	s.cluster.PutRow([]byte("t1"), []byte("a"), []byte("col:x"), []byte("v"))
	oldLoc, err := s.client.dir.lookup([]byte("t1"), []byte("a"))
	c.Assert(err, IsNil)

	// The region moves; the old server starts answering NotServingRegion.
	newAddr := s.cluster.Addr(2)
	c.Assert(newAddr, Not(Equals), oldLoc.Addr)
	s.cluster.MoveRegion([]byte("t1"), []byte("a"), newAddr)

	val, err := s.client.Get([]byte("t1"), []byte("a"), []byte("col:x"))
	c.Assert(err, IsNil)
	c.Assert(val, BytesEquals, []byte("v"))

	loc, err := s.client.dir.lookup([]byte("t1"), []byte("a"))
	c.Assert(err, IsNil)
	c.Assert(loc.Addr, Equals, newAddr)
}

func (s *testDispatchSuite) TestWrongRegionRecovery(c *C) {
	s.cluster.PutRow([]byte("t1"), []byte("a"), []byte("col:x"), []byte("v"))
	cli := newTestClientPause(c, s.cluster, 10)
	defer cli.Close()
	c.Assert(cli.OpenTable([]byte("t1")), IsNil)

	s.cluster.FailRegion([]byte("t1"), []byte("a"), rpc.KindWrongRegion)
	done := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.cluster.MoveRegion([]byte("t1"), []byte("a"), s.cluster.Addr(2))
		close(done)
	}()
	val, err := cli.Get([]byte("t1"), []byte("a"), []byte("col:x"))
	c.Assert(err, IsNil)
	c.Assert(val, BytesEquals, []byte("v"))
	<-done
}

func (s *testDispatchSuite) TestRetriesAreBounded(c *C) {
	s.cluster.FailRegion([]byte("t1"), []byte("a"), rpc.KindNotServingRegion)
	before := s.cluster.GetCount()
	_, err := s.client.Get([]byte("t1"), []byte("a"), []byte("col:x"))
	c.Assert(errors.Cause(err), Equals, ErrNotServingRegion)
	// At most N attempts hit the server.
	c.Assert(s.cluster.GetCount()-before, Equals, s.client.conf.Client.Retries.Number)
}

func (s *testDispatchSuite) TestTerminalErrorsDoNotRetry(c *C) {
	before := s.cluster.GetCount()
	_, err := s.client.Get([]byte("t1"), []byte("a"), []byte("bad"))
	c.Assert(errors.Cause(err), Equals, ErrInvalidColumnName)
	c.Assert(s.cluster.GetCount()-before, Equals, 1)
}

func (s *testDispatchSuite) TestDispatchAfterSplit(c *C) {
	s.cluster.PutRow([]byte("t1"), []byte("x"), []byte("col:x"), []byte("v"))
	// Splitting retires the parent region name, so the cached location goes
	// stale until the dispatcher reloads the directory.
	s.cluster.SplitRegion([]byte("t1"), []byte("s"))
	val, err := s.client.Get([]byte("t1"), []byte("x"), []byte("col:x"))
	c.Assert(err, IsNil)
	c.Assert(val, BytesEquals, []byte("v"))
	loc, err := s.client.dir.lookup([]byte("t1"), []byte("x"))
	c.Assert(err, IsNil)
	c.Assert(string(loc.Info.StartKey), Equals, "s")
}
