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
	"context"
	"time"

	. "github.com/pingcap/check"
	"github.com/pingcap/errors"

	"github.com/brahmabase/tablestore/mockcluster"
)

type testMasterSuite struct {
	cluster *mockcluster.Cluster
}

var _ = Suite(&testMasterSuite{})

func (s *testMasterSuite) SetUpTest(c *C) {
	s.cluster = mockcluster.NewCluster(1)
}

func (s *testMasterSuite) TestEnsureRetriesProbe(c *C) {
	s.cluster.FailMasterProbes(2)
	m := newMasterLocator("master", s.cluster, 5, time.Millisecond)
	conn, err := m.ensure(context.Background())
	c.Assert(err, IsNil)
	c.Assert(conn, NotNil)
}

func (s *testMasterSuite) TestEnsureCachesHandle(c *C) {
	m := newMasterLocator("master", s.cluster, 5, time.Millisecond)
	conn, err := m.ensure(context.Background())
	c.Assert(err, IsNil)

	// With a cached handle nothing is probed again, even if probes would
	// fail now.
	s.cluster.FailMasterProbes(100)
	again, err := m.ensure(context.Background())
	c.Assert(err, IsNil)
	c.Assert(again, Equals, conn)

	// Dropping the cache forces a fresh probe.
	m.invalidate()
	_, err = m.ensure(context.Background())
	c.Assert(errors.Cause(err), Equals, ErrMasterNotRunning)
}

func (s *testMasterSuite) TestExhaustedProbes(c *C) {
	s.cluster.StopMaster()
	m := newMasterLocator("master", s.cluster, 3, time.Millisecond)
	_, err := m.ensure(context.Background())
	c.Assert(errors.Cause(err), Equals, ErrMasterNotRunning)
}
