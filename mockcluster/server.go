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

package mockcluster

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/btree"

	"github.com/brahmabase/tablestore/kv"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/table"
)

// scannerState is one server-side cursor.
type scannerState struct {
	r          *region
	regionName string
	columns    [][]byte
	nextKey    kv.Key
}

// lockState is one open single-row update.
type lockState struct {
	id         int64
	clientID   uint64
	row        kv.Key
	r          *region
	regionName string
	puts       map[string][]byte
	deletes    map[string]bool
}

// Server hosts a set of regions and answers the per-region rpc surface.
type Server struct {
	cluster  *Cluster
	addr     string
	regions  map[string]*region
	scanners map[int64]*scannerState
	locks    map[int64]*lockState
}

// lookupRegion resolves a region name to hosted state, or the error the
// real server would answer with.
func (s *Server) lookupRegion(name []byte) (*region, *rpc.Error) {
	if kind, ok := s.cluster.broken[string(name)]; ok {
		return nil, rpc.Errorf(kind, "region %s is failing on purpose", name)
	}
	r, ok := s.regions[string(name)]
	if !ok {
		return nil, rpc.Errorf(rpc.KindNotServingRegion, "server %s does not serve region %s", s.addr, name)
	}
	return r, nil
}

// GetRegionInfo implements rpc.RegionConn.
func (s *Server) GetRegionInfo(ctx context.Context, regionName []byte) (*table.RegionInfo, error) {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	r, rerr := s.lookupRegion(regionName)
	if rerr != nil {
		return nil, rerr
	}
	info := *r.info
	return &info, nil
}

// Get implements rpc.RegionConn.
func (s *Server) Get(ctx context.Context, regionName, row, column []byte, numVersions int, timestamp uint64) ([][]byte, error) {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	s.cluster.gets++
	r, rerr := s.checkRow(regionName, row)
	if rerr != nil {
		return nil, rerr
	}
	if !table.ValidColumnName(column) {
		return nil, rpc.Errorf(rpc.KindInvalidColumnName, "%q", column)
	}
	item := r.rows.Get(&rowItem{key: row})
	if item == nil {
		return nil, nil
	}
	if numVersions < 1 {
		numVersions = 1
	}
	var vals [][]byte
	for _, v := range item.(*rowItem).cells[string(column)] {
		if timestamp != 0 && v.ts > timestamp {
			continue
		}
		vals = append(vals, v.value)
		if len(vals) == numVersions {
			break
		}
	}
	return vals, nil
}

// GetRow implements rpc.RegionConn.
func (s *Server) GetRow(ctx context.Context, regionName, row []byte) ([]rpc.Cell, error) {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	r, rerr := s.checkRow(regionName, row)
	if rerr != nil {
		return nil, rerr
	}
	item := r.rows.Get(&rowItem{key: row})
	if item == nil {
		return nil, nil
	}
	return latestCells(item.(*rowItem), nil), nil
}

// OpenScanner implements rpc.RegionConn.
func (s *Server) OpenScanner(ctx context.Context, regionName []byte, columns [][]byte, startRow []byte) (int64, error) {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	r, rerr := s.lookupRegion(regionName)
	if rerr != nil {
		return 0, rerr
	}
	s.cluster.nextScannerID++
	id := s.cluster.nextScannerID
	s.scanners[id] = &scannerState{
		r:          r,
		regionName: string(regionName),
		columns:    columns,
		nextKey:    kv.Key(startRow).Clone(),
	}
	s.cluster.scannersOpened++
	return id, nil
}

// Next implements rpc.RegionConn. A scanner whose region is no longer
// hosted, for example after a split, reports end of data.
func (s *Server) Next(ctx context.Context, scannerID int64) (kv.Key, []rpc.Cell, error) {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	sc, ok := s.scanners[scannerID]
	if !ok {
		return nil, nil, rpc.Errorf(rpc.KindUnknownScanner, "scanner %d", scannerID)
	}
	if s.regions[sc.regionName] != sc.r {
		return nil, nil, nil
	}
	var key kv.Key
	var cells []rpc.Cell
	sc.r.rows.AscendGreaterOrEqual(&rowItem{key: sc.nextKey}, func(item btree.Item) bool {
		row := item.(*rowItem)
		matched := latestCells(row, sc.columns)
		if len(matched) == 0 {
			return true
		}
		key = row.key
		cells = matched
		return false
	})
	if key == nil {
		return nil, nil, nil
	}
	sc.nextKey = key.Next()
	return key, cells, nil
}

// CloseScanner implements rpc.RegionConn.
func (s *Server) CloseScanner(ctx context.Context, scannerID int64) error {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	if _, ok := s.scanners[scannerID]; !ok {
		return rpc.Errorf(rpc.KindUnknownScanner, "scanner %d", scannerID)
	}
	delete(s.scanners, scannerID)
	s.cluster.scannersClosed++
	return nil
}

// StartUpdate implements rpc.RegionConn.
func (s *Server) StartUpdate(ctx context.Context, regionName []byte, clientID uint64, row []byte) (int64, error) {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	r, rerr := s.checkRow(regionName, row)
	if rerr != nil {
		return 0, rerr
	}
	for _, l := range s.locks {
		if l.r == r && l.row.Cmp(row) == 0 && l.clientID != clientID {
			return 0, rpc.Errorf(rpc.KindLockError, "row %q is locked by another client", row)
		}
	}
	s.cluster.nextLockID++
	id := s.cluster.nextLockID
	s.locks[id] = &lockState{
		id:         id,
		clientID:   clientID,
		row:        kv.Key(row).Clone(),
		r:          r,
		regionName: string(regionName),
		puts:       make(map[string][]byte),
		deletes:    make(map[string]bool),
	}
	return id, nil
}

// Put implements rpc.RegionConn.
func (s *Server) Put(ctx context.Context, regionName []byte, clientID uint64, lockID int64, column, value []byte) error {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	l, rerr := s.checkLock(regionName, clientID, lockID)
	if rerr != nil {
		return rerr
	}
	if !table.ValidColumnName(column) {
		return rpc.Errorf(rpc.KindInvalidColumnName, "%q", column)
	}
	l.puts[string(column)] = value
	delete(l.deletes, string(column))
	return nil
}

// Delete implements rpc.RegionConn.
func (s *Server) Delete(ctx context.Context, regionName []byte, clientID uint64, lockID int64, column []byte) error {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	l, rerr := s.checkLock(regionName, clientID, lockID)
	if rerr != nil {
		return rerr
	}
	if !table.ValidColumnName(column) {
		return rpc.Errorf(rpc.KindInvalidColumnName, "%q", column)
	}
	l.deletes[string(column)] = true
	delete(l.puts, string(column))
	return nil
}

// Abort implements rpc.RegionConn.
func (s *Server) Abort(ctx context.Context, regionName []byte, clientID uint64, lockID int64) error {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	s.cluster.aborts++
	l, ok := s.locks[lockID]
	if !ok || l.clientID != clientID {
		return rpc.Errorf(rpc.KindLockError, "lock %d is not open", lockID)
	}
	delete(s.locks, lockID)
	return nil
}

// Commit implements rpc.RegionConn.
func (s *Server) Commit(ctx context.Context, regionName []byte, clientID uint64, lockID int64) error {
	s.cluster.mu.Lock()
	defer s.cluster.mu.Unlock()
	l, rerr := s.checkLock(regionName, clientID, lockID)
	if rerr != nil {
		return rerr
	}
	for col, val := range l.puts {
		s.cluster.putCell(l.r, l.row, []byte(col), val)
	}
	for col := range l.deletes {
		s.cluster.deleteCell(l.r, l.row, []byte(col))
	}
	delete(s.locks, lockID)
	return nil
}

// Close implements rpc.RegionConn. Mock handles are shared, so this is a
// no-op.
func (s *Server) Close() error {
	return nil
}

// checkRow resolves the region and verifies it covers row.
func (s *Server) checkRow(regionName, row []byte) (*region, *rpc.Error) {
	r, rerr := s.lookupRegion(regionName)
	if rerr != nil {
		return nil, rerr
	}
	if !r.info.Contains(row) {
		return nil, rpc.Errorf(rpc.KindWrongRegion, "row %q is outside region %s", row, regionName)
	}
	return r, nil
}

// checkLock resolves an open lock, verifying ownership and that the region
// is still hosted here.
func (s *Server) checkLock(regionName []byte, clientID uint64, lockID int64) (*lockState, *rpc.Error) {
	if kind, ok := s.cluster.broken[string(regionName)]; ok {
		return nil, rpc.Errorf(kind, "region %s is failing on purpose", regionName)
	}
	l, ok := s.locks[lockID]
	if !ok || l.clientID != clientID {
		return nil, rpc.Errorf(rpc.KindLockError, "lock %d is not open", lockID)
	}
	if s.regions[l.regionName] != l.r {
		delete(s.locks, lockID)
		return nil, rpc.Errorf(rpc.KindNotServingRegion, "server %s no longer serves region %s", s.addr, l.regionName)
	}
	return l, nil
}

// latestCells returns the newest version of every cell of a row matching the
// column set. An empty column set matches everything; a name ending with the
// family delimiter matches the whole family.
func latestCells(row *rowItem, columns [][]byte) []rpc.Cell {
	var cells []rpc.Cell
	for col, versions := range row.cells {
		if len(versions) == 0 || !columnMatches([]byte(col), columns) {
			continue
		}
		cells = append(cells, rpc.Cell{Column: []byte(col), Value: versions[0].value})
	}
	sort.Slice(cells, func(i, j int) bool {
		return bytes.Compare(cells[i].Column, cells[j].Column) < 0
	})
	return cells
}

func columnMatches(col []byte, columns [][]byte) bool {
	if len(columns) == 0 {
		return true
	}
	for _, want := range columns {
		if bytes.Equal(col, want) {
			return true
		}
		if len(want) > 0 && want[len(want)-1] == table.ColumnDelimiter && bytes.HasPrefix(col, want) {
			return true
		}
	}
	return false
}

// Master implements rpc.MasterConn over the cluster state. Admin operations
// can be delayed to exercise the client's wait-loops.
type Master struct {
	cluster    *Cluster
	running    bool
	failProbes int
	hideRoot   int
	adminDelay time.Duration
}

// IsMasterRunning implements rpc.MasterConn.
func (m *Master) IsMasterRunning(ctx context.Context) (bool, error) {
	m.cluster.mu.Lock()
	defer m.cluster.mu.Unlock()
	if m.failProbes > 0 {
		m.failProbes--
		return false, nil
	}
	return m.running, nil
}

// FindRootRegion implements rpc.MasterConn.
func (m *Master) FindRootRegion(ctx context.Context) (string, bool, error) {
	m.cluster.mu.Lock()
	defer m.cluster.mu.Unlock()
	if m.hideRoot > 0 {
		m.hideRoot--
		return "", false, nil
	}
	return m.cluster.rootAddr, true, nil
}

// CreateTable implements rpc.MasterConn.
func (m *Master) CreateTable(ctx context.Context, desc *table.TableDescriptor) error {
	m.cluster.mu.Lock()
	defer m.cluster.mu.Unlock()
	if _, ok := m.cluster.tables[string(desc.Name)]; ok {
		return rpc.Errorf(rpc.KindTableExists, "table %s", desc.Name)
	}
	m.apply(func(c *Cluster) {
		c.createTableLocked(desc, nil, true)
	})
	return nil
}

// DeleteTable implements rpc.MasterConn.
func (m *Master) DeleteTable(ctx context.Context, name []byte) error {
	m.cluster.mu.Lock()
	defer m.cluster.mu.Unlock()
	ts, rerr := m.disabledTable(name)
	if rerr != nil {
		return rerr
	}
	m.apply(func(c *Cluster) {
		for _, rec := range ts.records {
			regionName := string(rec.r.info.RegionName)
			if rec.assigned {
				delete(c.servers[rec.addr].regions, regionName)
			}
			delete(c.records, regionName)
			c.deleteCatalogRow(rec.r.info)
		}
		delete(c.tables, string(name))
	})
	return nil
}

// AddColumn implements rpc.MasterConn.
func (m *Master) AddColumn(ctx context.Context, tableName []byte, col *table.ColumnDescriptor) error {
	m.cluster.mu.Lock()
	defer m.cluster.mu.Unlock()
	ts, rerr := m.disabledTable(tableName)
	if rerr != nil {
		return rerr
	}
	if !table.ValidColumnName(col.Name) {
		return rpc.Errorf(rpc.KindInvalidColumnName, "%q", col.Name)
	}
	m.apply(func(c *Cluster) {
		ts.desc.Columns = append(ts.desc.Columns, *col)
		m.republish(c, ts)
	})
	return nil
}

// DeleteColumn implements rpc.MasterConn.
func (m *Master) DeleteColumn(ctx context.Context, tableName, colName []byte) error {
	m.cluster.mu.Lock()
	defer m.cluster.mu.Unlock()
	ts, rerr := m.disabledTable(tableName)
	if rerr != nil {
		return rerr
	}
	m.apply(func(c *Cluster) {
		cols := ts.desc.Columns[:0]
		for _, cd := range ts.desc.Columns {
			if !bytes.Equal(cd.Name, colName) {
				cols = append(cols, cd)
			}
		}
		ts.desc.Columns = cols
		m.republish(c, ts)
	})
	return nil
}

// EnableTable implements rpc.MasterConn.
func (m *Master) EnableTable(ctx context.Context, name []byte) error {
	return m.setOffline(name, false)
}

// DisableTable implements rpc.MasterConn.
func (m *Master) DisableTable(ctx context.Context, name []byte) error {
	return m.setOffline(name, true)
}

// Shutdown implements rpc.MasterConn.
func (m *Master) Shutdown(ctx context.Context) error {
	m.cluster.mu.Lock()
	defer m.cluster.mu.Unlock()
	m.running = false
	return nil
}

// Close implements rpc.MasterConn.
func (m *Master) Close() error {
	return nil
}

func (m *Master) setOffline(name []byte, offline bool) error {
	m.cluster.mu.Lock()
	defer m.cluster.mu.Unlock()
	ts, ok := m.cluster.tables[string(name)]
	if !ok {
		return rpc.Errorf(rpc.KindRegionNotFound, "table %s", name)
	}
	m.apply(func(c *Cluster) {
		for _, rec := range ts.records {
			rec.r.info.Offline = offline
		}
		m.republish(c, ts)
	})
	return nil
}

// disabledTable resolves a table that must be offline before structural
// changes are allowed.
func (m *Master) disabledTable(name []byte) (*tableState, *rpc.Error) {
	ts, ok := m.cluster.tables[string(name)]
	if !ok {
		return nil, rpc.Errorf(rpc.KindRegionNotFound, "table %s", name)
	}
	for _, rec := range ts.records {
		if !rec.r.info.Offline {
			return nil, rpc.Errorf(rpc.KindTableNotDisabled, "table %s", name)
		}
	}
	return ts, nil
}

// republish rewrites the table's catalog rows after a descriptor change.
func (m *Master) republish(c *Cluster, ts *tableState) {
	for _, rec := range ts.records {
		rec.r.info.TableDesc = *ts.desc
		c.writeCatalogRow(rec.r.info, rec.addr, rec.assigned)
	}
}

// apply runs a state change now, or after the configured admin delay while
// the caller's wait-loop is already polling.
func (m *Master) apply(fn func(c *Cluster)) {
	if m.adminDelay <= 0 {
		fn(m.cluster)
		return
	}
	delay := m.adminDelay
	go func() {
		time.Sleep(delay)
		m.cluster.mu.Lock()
		defer m.cluster.mu.Unlock()
		fn(m.cluster)
	}()
}
