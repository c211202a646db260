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
	"bytes"

	. "github.com/pingcap/check"

	"github.com/brahmabase/tablestore/kv"
	"github.com/brahmabase/tablestore/mockcluster"
	"github.com/brahmabase/tablestore/table"
)

type testScannerSuite struct {
	cluster *mockcluster.Cluster
	client  *Client
}

var _ = Suite(&testScannerSuite{})

func (s *testScannerSuite) SetUpTest(c *C) {
	s.cluster = mockcluster.NewCluster(3)
	s.client = newTestClient(c, s.cluster)
	s.cluster.CreateTable(table.NewTableDescriptor("t1", "col:"), []byte("h"), []byte("p"))
	c.Assert(s.client.OpenTable([]byte("t1")), IsNil)
	for _, row := range []string{"a", "b", "i", "j", "q", "z"} {
		s.cluster.PutRow([]byte("t1"), []byte(row), []byte("col:x"), []byte("v-"+row))
	}
}

func (s *testScannerSuite) TearDownTest(c *C) {
	c.Assert(s.client.Close(), IsNil)
}

// drain reads the scan to its end, checking strictly increasing key order.
func (s *testScannerSuite) drain(c *C, sc *Scanner) []string {
	var rows []string
	var prev kv.Key
	for {
		key, cells, err := sc.Next()
		c.Assert(err, IsNil)
		if key == nil {
			return rows
		}
		c.Assert(len(cells) > 0, IsTrue)
		if prev != nil {
			c.Assert(bytes.Compare(prev, key) < 0, IsTrue)
		}
		prev = key.Clone()
		rows = append(rows, string(key))
	}
}

func (s *testScannerSuite) TestFullScan(c *C) {
	sc, err := s.client.OpenScanner([]byte("t1"), [][]byte{[]byte("col:x")}, nil)
	c.Assert(err, IsNil)
	rows := s.drain(c, sc)
	c.Assert(rows, DeepEquals, []string{"a", "b", "i", "j", "q", "z"})
	c.Assert(sc.Close(), IsNil)
	// Every server-side scanner was released, catalog scans included.
	c.Assert(s.cluster.ScannersClosed(), Equals, s.cluster.ScannersOpened())
}

func (s *testScannerSuite) TestScanFromStartRow(c *C) {
	sc, err := s.client.OpenScanner([]byte("t1"), [][]byte{[]byte("col:x")}, []byte("i"))
	c.Assert(err, IsNil)
	defer sc.Close()
	rows := s.drain(c, sc)
	c.Assert(rows, DeepEquals, []string{"i", "j", "q", "z"})
}

func (s *testScannerSuite) TestScanFamilyWildcard(c *C) {
	sc, err := s.client.OpenScanner([]byte("t1"), [][]byte{[]byte("col:")}, []byte("q"))
	c.Assert(err, IsNil)
	defer sc.Close()
	rows := s.drain(c, sc)
	c.Assert(rows, DeepEquals, []string{"q", "z"})
}

func (s *testScannerSuite) TestCloseEarly(c *C) {
	sc, err := s.client.OpenScanner([]byte("t1"), [][]byte{[]byte("col:x")}, nil)
	c.Assert(err, IsNil)
	key, _, err := sc.Next()
	c.Assert(err, IsNil)
	c.Assert(string(key), Equals, "a")
	c.Assert(sc.Close(), IsNil)
	c.Assert(s.cluster.ScannersClosed(), Equals, s.cluster.ScannersOpened())

	// A closed scanner reports end forever, including after double close.
	c.Assert(sc.Close(), IsNil)
	key, cells, err := sc.Next()
	c.Assert(err, IsNil)
	c.Assert(key, IsNil)
	c.Assert(cells, IsNil)
}

func (s *testScannerSuite) TestScanCrossesSplit(c *C) {
	sc, err := s.client.OpenScanner([]byte("t1"), [][]byte{[]byte("col:x")}, nil)
	c.Assert(err, IsNil)
	defer sc.Close()

	key, _, err := sc.Next()
	c.Assert(err, IsNil)
	c.Assert(string(key), Equals, "a")
	key, _, err = sc.Next()
	c.Assert(err, IsNil)
	c.Assert(string(key), Equals, "b")

	// The first region splits under the scanner. Its server scanner reports
	// end of data and the scan resumes at the next region of the snapshot.
	s.cluster.SplitRegion([]byte("t1"), []byte("c"))
	rows := s.drain(c, sc)
	c.Assert(rows, DeepEquals, []string{"i", "j", "q", "z"})
}

func (s *testScannerSuite) TestScanSurvivesRegionMove(c *C) {
	sc, err := s.client.OpenScanner([]byte("t1"), [][]byte{[]byte("col:x")}, nil)
	c.Assert(err, IsNil)
	defer sc.Close()

	key, _, err := sc.Next()
	c.Assert(err, IsNil)
	c.Assert(string(key), Equals, "a")

	// Move the second region; the snapshot's address for it goes stale and
	// the scanner reloads the directory when it gets there.
	oldAddr := s.cluster.RegionAddr([]byte("t1"), []byte("i"))
	newAddr := s.cluster.Addr(2)
	if oldAddr == newAddr {
		newAddr = s.cluster.Addr(1)
	}
	s.cluster.MoveRegion([]byte("t1"), []byte("i"), newAddr)

	rows := s.drain(c, sc)
	c.Assert(rows, DeepEquals, []string{"b", "i", "j", "q", "z"})
}

func (s *testScannerSuite) TestScannerRequiresOpenTable(c *C) {
	s.cluster.CreateTable(table.NewTableDescriptor("t2", "col:"))
	_, err := s.client.OpenScanner([]byte("t2"), [][]byte{[]byte("col:x")}, nil)
	c.Assert(err, NotNil)
}
