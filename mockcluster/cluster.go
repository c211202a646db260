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

// Package mockcluster is an in-memory table store cluster: one master plus a
// set of region servers speaking the client's rpc interfaces directly, with
// the root and meta catalogs stored as ordinary regions. Tests drive region
// splits, moves, and unassignments through it without any networking.
package mockcluster

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pingcap/errors"

	"github.com/brahmabase/tablestore/kv"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/table"
)

const rowsBtreeDegree = 8

// cellVersion is one timestamped value of a cell, kept newest first.
type cellVersion struct {
	ts    uint64
	value []byte
}

// rowItem is the btree entry for one row of a region.
type rowItem struct {
	key   kv.Key
	cells map[string][]cellVersion
}

// Less implements btree.Item.
func (r *rowItem) Less(than btree.Item) bool {
	return r.key.Cmp(than.(*rowItem).key) < 0
}

// region is the hosted state of one region: its descriptor plus its rows.
type region struct {
	info *table.RegionInfo
	rows *btree.BTree
}

func newRegion(info *table.RegionInfo) *region {
	return &region{info: info, rows: btree.New(rowsBtreeDegree)}
}

// regionRecord is the cluster's authoritative view of one region.
type regionRecord struct {
	r        *region
	addr     string
	assigned bool
}

// tableState tracks one table's descriptor and regions.
type tableState struct {
	desc    *table.TableDescriptor
	records []*regionRecord
}

// Cluster is the shared state behind every mock server and the mock master.
type Cluster struct {
	mu sync.Mutex

	servers  map[string]*Server
	addrs    []string
	master   *Master
	rootAddr string

	// records indexes every region (root, meta, user) by region name.
	records     map[string]*regionRecord
	metaRecords []*regionRecord
	tables      map[string]*tableState

	// broken regions answer every operation that names them, except Abort,
	// with the configured kind.
	broken map[string]rpc.ErrorKind

	nextRegionID  uint64
	nextScannerID int64
	nextLockID    int64
	ts            uint64
	nextPick      int

	dials          map[string]int
	scannersOpened int
	scannersClosed int
	aborts         int
	gets           int
}

// NewCluster bootstraps serverCount region servers, the root region on the
// first server, and meta regions split at metaSplits spread round-robin.
func NewCluster(serverCount int, metaSplits ...[]byte) *Cluster {
	c := &Cluster{
		servers: make(map[string]*Server),
		records: make(map[string]*regionRecord),
		tables:  make(map[string]*tableState),
		broken:  make(map[string]rpc.ErrorKind),
		dials:   make(map[string]int),
	}
	for i := 0; i < serverCount; i++ {
		addr := fmt.Sprintf("server%d", i)
		c.servers[addr] = &Server{
			cluster:  c,
			addr:     addr,
			regions:  make(map[string]*region),
			scanners: make(map[int64]*scannerState),
			locks:    make(map[int64]*lockState),
		}
		c.addrs = append(c.addrs, addr)
	}
	c.master = &Master{cluster: c, running: true}

	// Root lives on the first server and the master knows where.
	rootInfo := &table.RegionInfo{
		RegionName: append([]byte(nil), table.RootRegionName...),
		TableDesc:  *table.NewTableDescriptor(string(table.RootTableName), "info:"),
	}
	c.rootAddr = c.addrs[0]
	rootRegion := newRegion(rootInfo)
	c.servers[c.rootAddr].regions[string(rootInfo.RegionName)] = rootRegion
	c.records[string(rootInfo.RegionName)] = &regionRecord{r: rootRegion, addr: c.rootAddr, assigned: true}

	// Meta regions, split as asked, indexed from root.
	metaDesc := table.NewTableDescriptor(string(table.MetaTableName), "info:")
	starts := append([][]byte{nil}, metaSplits...)
	for i, start := range starts {
		var end []byte
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		info := table.NewRegionInfo(*metaDesc, start, end, c.allocRegionID())
		rec := c.placeRegion(info)
		c.metaRecords = append(c.metaRecords, rec)
		c.writeCatalogRow(info, rec.addr, true)
	}
	return c
}

// Addr returns the address of the i-th server.
func (c *Cluster) Addr(i int) string {
	return c.addrs[i]
}

// RootAddr returns the address currently serving the root region.
func (c *Cluster) RootAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rootAddr
}

// Dial implements rpc.Dialer. The returned handle is the server itself;
// closing it is a no-op so pooled handles can be deduplicated freely.
func (c *Cluster) Dial(ctx context.Context, addr string) (rpc.RegionConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials[addr]++
	s, ok := c.servers[addr]
	if !ok {
		return nil, errors.Errorf("no server at %s", addr)
	}
	return s, nil
}

// DialMaster implements rpc.MasterDialer.
func (c *Cluster) DialMaster(ctx context.Context, addr string) (rpc.MasterConn, error) {
	return c.master, nil
}

// DialCount returns how often addr was dialed.
func (c *Cluster) DialCount(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials[addr]
}

// ScannersOpened returns the number of server-side scanners ever opened.
func (c *Cluster) ScannersOpened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scannersOpened
}

// ScannersClosed returns the number of server-side scanners closed.
func (c *Cluster) ScannersClosed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scannersClosed
}

// GetCount returns how many Get RPCs the servers received.
func (c *Cluster) GetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

// AbortCount returns how many lock aborts the servers received.
func (c *Cluster) AbortCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborts
}

// CreateTable creates a user table with regions split at splitKeys,
// assigned round-robin across the servers, and indexes it in meta.
func (c *Cluster) CreateTable(desc *table.TableDescriptor, splitKeys ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createTableLocked(desc, splitKeys, true)
}

// CreateUnassignedTable writes the table's catalog rows without server
// assignments, the state a table is in while its regions are being placed.
func (c *Cluster) CreateUnassignedTable(desc *table.TableDescriptor, splitKeys ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createTableLocked(desc, splitKeys, false)
}

// AssignTable places every unassigned region of the table and publishes the
// assignments in the catalog.
func (c *Cluster) AssignTable(name []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.tables[string(name)]
	if !ok {
		return
	}
	for _, rec := range ts.records {
		if rec.assigned {
			continue
		}
		rec.addr = c.pickAddr()
		rec.assigned = true
		c.servers[rec.addr].regions[string(rec.r.info.RegionName)] = rec.r
		c.writeCatalogRow(rec.r.info, rec.addr, true)
	}
}

// MoveRegion reassigns the region of tableName covering row to addr. The
// old server stops serving the region immediately; the catalog is updated.
func (c *Cluster) MoveRegion(tableName, row []byte, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.recordByRowLocked(tableName, row)
	if rec == nil {
		return
	}
	name := string(rec.r.info.RegionName)
	delete(c.broken, name)
	if rec.assigned {
		delete(c.servers[rec.addr].regions, name)
	}
	rec.addr = addr
	rec.assigned = true
	c.servers[addr].regions[name] = rec.r
	if bytes.Equal(tableName, table.RootTableName) {
		c.rootAddr = addr
		return
	}
	c.writeCatalogRow(rec.r.info, addr, true)
}

// SplitRegion splits the region of tableName covering splitKey into
// [start, splitKey) and [splitKey, end) hosted by the same server. The
// parent region name stops being served.
func (c *Cluster) SplitRegion(tableName, splitKey []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.tables[string(tableName)]
	if !ok {
		return
	}
	rec := c.recordByRowLocked(tableName, splitKey)
	if rec == nil || rec.r.info.StartKey.Cmp(splitKey) == 0 {
		return
	}
	parent := rec.r
	left := newRegion(table.NewRegionInfo(parent.info.TableDesc, parent.info.StartKey, splitKey, c.allocRegionID()))
	right := newRegion(table.NewRegionInfo(parent.info.TableDesc, splitKey, parent.info.EndKey, c.allocRegionID()))
	parent.rows.Ascend(func(item btree.Item) bool {
		row := item.(*rowItem)
		if row.key.Cmp(splitKey) < 0 {
			left.rows.ReplaceOrInsert(row)
		} else {
			right.rows.ReplaceOrInsert(row)
		}
		return true
	})

	parentName := string(parent.info.RegionName)
	delete(c.broken, parentName)
	delete(c.servers[rec.addr].regions, parentName)
	delete(c.records, parentName)
	c.deleteCatalogRow(parent.info)
	for i, r := range ts.records {
		if r == rec {
			ts.records = append(ts.records[:i], ts.records[i+1:]...)
			break
		}
	}

	for _, child := range []*region{left, right} {
		childRec := &regionRecord{r: child, addr: rec.addr, assigned: true}
		c.servers[rec.addr].regions[string(child.info.RegionName)] = child
		c.records[string(child.info.RegionName)] = childRec
		ts.records = append(ts.records, childRec)
		c.writeCatalogRow(child.info, rec.addr, true)
	}
}

// FailRegion makes every operation that names the region of tableName
// covering row, except Abort, answer with the given error kind until the
// region is moved or split. Scanners already open on it are unaffected.
func (c *Cluster) FailRegion(tableName, row []byte, kind rpc.ErrorKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.recordByRowLocked(tableName, row)
	if rec != nil {
		c.broken[string(rec.r.info.RegionName)] = kind
	}
}

// PutRow writes a cell directly into the region covering row, bypassing the
// update-session machinery. Meant for seeding read and scan tests.
func (c *Cluster) PutRow(tableName, row, column, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.recordByRowLocked(tableName, row)
	if rec == nil {
		return
	}
	c.putCell(rec.r, row, column, value)
}

// CurrentTS returns the cluster's latest write timestamp.
func (c *Cluster) CurrentTS() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

// SetTableOffline flips the offline flag of every region of the table and
// republishes the catalog rows.
func (c *Cluster) SetTableOffline(name []byte, offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.tables[string(name)]
	if !ok {
		return
	}
	for _, rec := range ts.records {
		rec.r.info.Offline = offline
		c.writeCatalogRow(rec.r.info, rec.addr, rec.assigned)
	}
}

// SetAdminDelay delays the effect of master admin operations, so admin
// wait-loops have something to wait for.
func (c *Cluster) SetAdminDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.master.adminDelay = d
}

// FailMasterProbes makes the next n liveness probes answer false.
func (c *Cluster) FailMasterProbes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.master.failProbes = n
}

// HideRootFor makes the next n FindRootRegion calls report no location.
func (c *Cluster) HideRootFor(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.master.hideRoot = n
}

// StopMaster turns the master off; probes answer false from now on.
func (c *Cluster) StopMaster() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.master.running = false
}

// RegionAddr returns the address serving the region of tableName covering
// row, or the empty string while it is unassigned.
func (c *Cluster) RegionAddr(tableName, row []byte) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.recordByRowLocked(tableName, row)
	if rec == nil || !rec.assigned {
		return ""
	}
	return rec.addr
}

func (c *Cluster) allocRegionID() uint64 {
	c.nextRegionID++
	return c.nextRegionID
}

func (c *Cluster) tick() uint64 {
	c.ts++
	return c.ts
}

func (c *Cluster) pickAddr() string {
	addr := c.addrs[c.nextPick%len(c.addrs)]
	c.nextPick++
	return addr
}

// placeRegion assigns a fresh region round-robin and records it.
func (c *Cluster) placeRegion(info *table.RegionInfo) *regionRecord {
	r := newRegion(info)
	rec := &regionRecord{r: r, addr: c.pickAddr(), assigned: true}
	c.servers[rec.addr].regions[string(info.RegionName)] = r
	c.records[string(info.RegionName)] = rec
	return rec
}

func (c *Cluster) createTableLocked(desc *table.TableDescriptor, splitKeys [][]byte, assigned bool) {
	ts := &tableState{desc: desc}
	starts := append([][]byte{nil}, splitKeys...)
	for i, start := range starts {
		var end []byte
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		info := table.NewRegionInfo(*desc, start, end, c.allocRegionID())
		var rec *regionRecord
		if assigned {
			rec = c.placeRegion(info)
		} else {
			rec = &regionRecord{r: newRegion(info)}
			c.records[string(info.RegionName)] = rec
		}
		ts.records = append(ts.records, rec)
		c.writeCatalogRow(info, rec.addr, rec.assigned)
	}
	c.tables[string(desc.Name)] = ts
}

func (c *Cluster) recordByRowLocked(tableName, row []byte) *regionRecord {
	if bytes.Equal(tableName, table.RootTableName) {
		return c.records[string(table.RootRegionName)]
	}
	if bytes.Equal(tableName, table.MetaTableName) {
		return c.metaRecordFor(row)
	}
	ts, ok := c.tables[string(tableName)]
	if !ok {
		return nil
	}
	for _, rec := range ts.records {
		if rec.r.info.Contains(row) {
			return rec
		}
	}
	return nil
}

// metaRecordFor returns the meta region whose range covers key.
func (c *Cluster) metaRecordFor(key []byte) *regionRecord {
	var found *regionRecord
	for _, rec := range c.metaRecords {
		if rec.r.info.StartKey.Cmp(key) <= 0 {
			found = rec
		}
	}
	return found
}

// catalogRegionFor returns the catalog region hosting the row describing
// info: root for meta regions, the covering meta region for user regions.
func (c *Cluster) catalogRegionFor(info *table.RegionInfo) *region {
	if bytes.Equal(info.TableDesc.Name, table.MetaTableName) {
		return c.records[string(table.RootRegionName)].r
	}
	return c.metaRecordFor(info.RegionName).r
}

// writeCatalogRow publishes a region descriptor (and, when assigned, its
// server address) into the catalog.
func (c *Cluster) writeCatalogRow(info *table.RegionInfo, addr string, assigned bool) {
	catalog := c.catalogRegionFor(info)
	data, err := info.Marshal()
	if err != nil {
		panic(err)
	}
	c.putCell(catalog, info.RegionName, table.ColRegionInfo, data)
	if assigned {
		c.putCell(catalog, info.RegionName, table.ColServer, []byte(addr))
	} else {
		c.deleteCell(catalog, info.RegionName, table.ColServer)
	}
}

func (c *Cluster) deleteCatalogRow(info *table.RegionInfo) {
	catalog := c.catalogRegionFor(info)
	catalog.rows.Delete(&rowItem{key: info.RegionName})
}

func (c *Cluster) putCell(r *region, row kv.Key, column, value []byte) {
	item := r.rows.Get(&rowItem{key: row})
	var ri *rowItem
	if item == nil {
		ri = &rowItem{key: row.Clone(), cells: make(map[string][]cellVersion)}
		r.rows.ReplaceOrInsert(ri)
	} else {
		ri = item.(*rowItem)
	}
	ri.cells[string(column)] = append([]cellVersion{{ts: c.tick(), value: value}}, ri.cells[string(column)]...)
}

func (c *Cluster) deleteCell(r *region, row kv.Key, column []byte) {
	item := r.rows.Get(&rowItem{key: row})
	if item == nil {
		return
	}
	ri := item.(*rowItem)
	delete(ri.cells, string(column))
	if len(ri.cells) == 0 {
		r.rows.Delete(ri)
	}
}
