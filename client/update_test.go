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

	"github.com/brahmabase/tablestore/mockcluster"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/table"
)

type testUpdateSuite struct {
	cluster *mockcluster.Cluster
	client  *Client
}

var _ = Suite(&testUpdateSuite{})

func (s *testUpdateSuite) SetUpTest(c *C) {
	s.cluster = mockcluster.NewCluster(3)
	s.client = newTestClient(c, s.cluster)
	s.cluster.CreateTable(table.NewTableDescriptor("t1", "col:"), []byte("m"))
	c.Assert(s.client.OpenTable([]byte("t1")), IsNil)
}

func (s *testUpdateSuite) TearDownTest(c *C) {
	c.Assert(s.client.Close(), IsNil)
}

func (s *testUpdateSuite) TestCommitRoundTrip(c *C) {
	sess, err := s.client.Begin([]byte("t1"), []byte("r"))
	c.Assert(err, IsNil)
	c.Assert(sess.Put([]byte("col:x"), []byte("v")), IsNil)
	c.Assert(sess.Commit(), IsNil)

	val, err := s.client.Get([]byte("t1"), []byte("r"), []byte("col:x"))
	c.Assert(err, IsNil)
	c.Assert(val, BytesEquals, []byte("v"))

	// The session is over; everything else reports it.
	c.Assert(errors.Cause(sess.Put([]byte("col:x"), []byte("w"))), Equals, ErrNoActiveSession)
	c.Assert(errors.Cause(sess.Commit()), Equals, ErrNoActiveSession)
	c.Assert(errors.Cause(sess.Abort()), Equals, ErrNoActiveSession)
}

func (s *testUpdateSuite) TestAbortDiscards(c *C) {
	sess, err := s.client.Begin([]byte("t1"), []byte("r"))
	c.Assert(err, IsNil)
	c.Assert(sess.Put([]byte("col:x"), []byte("v")), IsNil)
	c.Assert(sess.Abort(), IsNil)

	val, err := s.client.Get([]byte("t1"), []byte("r"), []byte("col:x"))
	c.Assert(err, IsNil)
	c.Assert(val, IsNil)
}

func (s *testUpdateSuite) TestDelete(c *C) {
	s.cluster.PutRow([]byte("t1"), []byte("r"), []byte("col:x"), []byte("v"))
	sess, err := s.client.Begin([]byte("t1"), []byte("r"))
	c.Assert(err, IsNil)
	c.Assert(sess.Delete([]byte("col:x")), IsNil)
	c.Assert(sess.Commit(), IsNil)

	val, err := s.client.Get([]byte("t1"), []byte("r"), []byte("col:x"))
	c.Assert(err, IsNil)
	c.Assert(val, IsNil)
}

func (s *testUpdateSuite) TestBeginFollowsRegionMove(c *C) {
	s.cluster.MoveRegion([]byte("t1"), []byte("r"), s.cluster.Addr(1))
	sess, err := s.client.Begin([]byte("t1"), []byte("r"))
	c.Assert(err, IsNil)
	c.Assert(sess.Put([]byte("col:x"), []byte("v")), IsNil)
	c.Assert(sess.Commit(), IsNil)
	val, err := s.client.Get([]byte("t1"), []byte("r"), []byte("col:x"))
	c.Assert(err, IsNil)
	c.Assert(val, BytesEquals, []byte("v"))
}

func (s *testUpdateSuite) TestPutFailureAbandonsSession(c *C) {
	sess, err := s.client.Begin([]byte("t1"), []byte("r"))
	c.Assert(err, IsNil)

	aborts := s.cluster.AbortCount()
	s.cluster.FailRegion([]byte("t1"), []byte("r"), rpc.KindNotServingRegion)

	// The mutation's own error surfaces; the lock is aborted best-effort.
	err = sess.Put([]byte("col:x"), []byte("v"))
	c.Assert(errors.Cause(err), Equals, ErrNotServingRegion)
	c.Assert(s.cluster.AbortCount(), Equals, aborts+1)

	c.Assert(errors.Cause(sess.Put([]byte("col:x"), []byte("v"))), Equals, ErrNoActiveSession)
	c.Assert(errors.Cause(sess.Commit()), Equals, ErrNoActiveSession)
}

func (s *testUpdateSuite) TestLockConflict(c *C) {
	sess, err := s.client.Begin([]byte("t1"), []byte("r"))
	c.Assert(err, IsNil)
	defer sess.Abort()

	_, err = s.client.Begin([]byte("t1"), []byte("r"))
	c.Assert(errors.Cause(err), Equals, ErrLock)

	// A different row is fine.
	other, err := s.client.Begin([]byte("t1"), []byte("other"))
	c.Assert(err, IsNil)
	c.Assert(other.Abort(), IsNil)
}

func (s *testUpdateSuite) TestBeginValidatesArguments(c *C) {
	_, err := s.client.Begin([]byte("t1"), nil)
	c.Assert(errors.Cause(err), Equals, ErrIllegalArgument)
	_, err = s.client.Begin(table.MetaTableName, []byte("r"))
	c.Assert(errors.Cause(err), Equals, ErrIllegalArgument)
}
