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
	"sync"

	. "github.com/pingcap/check"

	"github.com/brahmabase/tablestore/mockcluster"
	"github.com/brahmabase/tablestore/rpc"
)

type testConnPoolSuite struct {
	cluster *mockcluster.Cluster
}

var _ = Suite(&testConnPoolSuite{})

func (s *testConnPoolSuite) SetUpTest(c *C) {
	s.cluster = mockcluster.NewCluster(2)
}

func (s *testConnPoolSuite) TestConnectIsIdempotent(c *C) {
	pool := newConnPool(s.cluster)
	defer pool.closeAll()

	h1, err := pool.get(context.Background(), s.cluster.Addr(0))
	c.Assert(err, IsNil)
	h2, err := pool.get(context.Background(), s.cluster.Addr(0))
	c.Assert(err, IsNil)
	c.Assert(h1, Equals, h2)
	c.Assert(s.cluster.DialCount(s.cluster.Addr(0)), Equals, 1)

	h3, err := pool.get(context.Background(), s.cluster.Addr(1))
	c.Assert(err, IsNil)
	c.Assert(h3, Not(Equals), h1)
}

func (s *testConnPoolSuite) TestConcurrentFirstConnect(c *C) {
	pool := newConnPool(s.cluster)
	defer pool.closeAll()

	const workers = 16
	handles := make([]rpc.RegionConn, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := pool.get(context.Background(), s.cluster.Addr(0))
			if err == nil {
				handles[i] = h
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < workers; i++ {
		c.Assert(handles[i], NotNil)
		c.Assert(handles[i], Equals, handles[0])
	}
}

func (s *testConnPoolSuite) TestUnknownServer(c *C) {
	pool := newConnPool(s.cluster)
	defer pool.closeAll()
	_, err := pool.get(context.Background(), "nowhere")
	c.Assert(err, NotNil)
}
