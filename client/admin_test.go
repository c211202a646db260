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

	"github.com/brahmabase/tablestore/config"
	"github.com/brahmabase/tablestore/mockcluster"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/table"
)

type testAdminSuite struct {
	cluster *mockcluster.Cluster
	client  *Client
}

var _ = Suite(&testAdminSuite{})

func (s *testAdminSuite) SetUpTest(c *C) {
	s.cluster = mockcluster.NewCluster(3)
	s.client = newTestClient(c, s.cluster)
}

func (s *testAdminSuite) TearDownTest(c *C) {
	c.Assert(s.client.Close(), IsNil)
}

func (s *testAdminSuite) TestCreateTable(c *C) {
	c.Assert(s.client.CreateTable(table.NewTableDescriptor("new", "col:")), IsNil)
	c.Assert(s.client.OpenTable([]byte("new")), IsNil)
}

func (s *testAdminSuite) TestCreateTableWaitsForCatalog(c *C) {
	cli := newTestClientPause(c, s.cluster, 10)
	defer cli.Close()
	s.cluster.SetAdminDelay(15 * time.Millisecond)
	c.Assert(cli.CreateTable(table.NewTableDescriptor("new", "col:")), IsNil)
	c.Assert(cli.OpenTable([]byte("new")), IsNil)
}

func (s *testAdminSuite) TestCreateExistingTable(c *C) {
	s.cluster.CreateTable(table.NewTableDescriptor("t1", "col:"))
	err := s.client.CreateTable(table.NewTableDescriptor("t1", "col:"))
	c.Assert(errors.Cause(err), Equals, ErrTableExists)
}

func (s *testAdminSuite) TestDisableEnable(c *C) {
	c.Assert(s.client.CreateTable(table.NewTableDescriptor("t1", "col:")), IsNil)
	c.Assert(s.client.OpenTable([]byte("t1")), IsNil)

	c.Assert(s.client.DisableTable([]byte("t1")), IsNil)
	err := s.client.OpenTable([]byte("t1"))
	c.Assert(errors.Cause(err), Equals, ErrTableOffline)

	c.Assert(s.client.EnableTable([]byte("t1")), IsNil)
	c.Assert(s.client.OpenTable([]byte("t1")), IsNil)
}

func (s *testAdminSuite) TestDeleteTable(c *C) {
	c.Assert(s.client.CreateTable(table.NewTableDescriptor("t1", "col:")), IsNil)
	c.Assert(s.client.DisableTable([]byte("t1")), IsNil)
	c.Assert(s.client.DeleteTable([]byte("t1")), IsNil)
	err := s.client.OpenTable([]byte("t1"))
	c.Assert(errors.Cause(err), Equals, ErrRegionNotFound)
}

func (s *testAdminSuite) TestDeleteRequiresDisabled(c *C) {
	c.Assert(s.client.CreateTable(table.NewTableDescriptor("t1", "col:")), IsNil)
	err := s.client.DeleteTable([]byte("t1"))
	c.Assert(errors.Cause(err), Equals, ErrTableNotDisabled)
}

func (s *testAdminSuite) TestColumnChanges(c *C) {
	c.Assert(s.client.CreateTable(table.NewTableDescriptor("t1", "col:")), IsNil)
	c.Assert(s.client.DisableTable([]byte("t1")), IsNil)
	c.Assert(s.client.AddColumn([]byte("t1"), &table.ColumnDescriptor{Name: []byte("extra:"), MaxVersions: 1}), IsNil)
	c.Assert(s.client.DeleteColumn([]byte("t1"), []byte("col:")), IsNil)
	c.Assert(s.client.EnableTable([]byte("t1")), IsNil)

	err := s.client.AddColumn([]byte("t1"), &table.ColumnDescriptor{Name: []byte("more:"), MaxVersions: 1})
	c.Assert(errors.Cause(err), Equals, ErrTableNotDisabled)
}

func (s *testAdminSuite) TestCreateTablePreservesOpenTables(c *C) {
	s.cluster.CreateTable(table.NewTableDescriptor("t1", "col:"), []byte("m"))
	c.Assert(s.client.OpenTable([]byte("t1")), IsNil)
	before, err := s.client.dir.snapshot([]byte("t1"), nil)
	c.Assert(err, IsNil)

	c.Assert(s.client.CreateTable(table.NewTableDescriptor("new", "col:")), IsNil)

	after, err := s.client.dir.snapshot([]byte("t1"), nil)
	c.Assert(err, IsNil)
	c.Assert(after, DeepEquals, before)
}

// failingMasterDialer refuses every dial, proving a call never reached for
// the master.
type failingMasterDialer struct{}

func (failingMasterDialer) DialMaster(ctx context.Context, addr string) (rpc.MasterConn, error) {
	return nil, errors.New("master dialed")
}

func (s *testAdminSuite) TestReservedNamesRejectedBeforeMaster(c *C) {
	conf := config.NewConfig()
	conf.Client.Pause = 1
	cli, err := New(conf, WithDialer(s.cluster), WithMasterDialer(failingMasterDialer{}))
	c.Assert(err, IsNil)
	defer cli.Close()

	err = cli.CreateTable(table.NewTableDescriptor(string(table.RootTableName)))
	c.Assert(errors.Cause(err), Equals, ErrIllegalArgument)
	err = cli.DisableTable(table.MetaTableName)
	c.Assert(errors.Cause(err), Equals, ErrIllegalArgument)
	err = cli.DeleteTable(nil)
	c.Assert(errors.Cause(err), Equals, ErrIllegalArgument)
}
