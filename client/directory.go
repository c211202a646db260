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
	"sync"

	"github.com/google/btree"
	"github.com/pingcap/errors"

	"github.com/brahmabase/tablestore/kv"
	"github.com/brahmabase/tablestore/metrics"
	"github.com/brahmabase/tablestore/table"
)

const btreeDegree = 32

// RegionLocation pairs a region descriptor with the address currently
// serving it.
type RegionLocation struct {
	Info *table.RegionInfo
	Addr string
}

// directoryItem is the btree entry for one region, keyed by its start key.
type directoryItem struct {
	startKey kv.Key
	loc      RegionLocation
}

// Less implements btree.Item.
func (d *directoryItem) Less(than btree.Item) bool {
	return d.startKey.Cmp(than.(*directoryItem).startKey) < 0
}

// tableDirectory is the ordered start-key -> location map of one table's
// regions. Lookup by row key is a floor search: the owning region is the one
// with the greatest start key <= the row.
type tableDirectory struct {
	sorted *btree.BTree
}

func newTableDirectory() *tableDirectory {
	return &tableDirectory{sorted: btree.New(btreeDegree)}
}

func (d *tableDirectory) insert(loc RegionLocation) {
	d.sorted.ReplaceOrInsert(&directoryItem{startKey: loc.Info.StartKey, loc: loc})
}

func (d *tableDirectory) len() int {
	return d.sorted.Len()
}

// floor returns the location with the greatest start key <= key.
func (d *tableDirectory) floor(key kv.Key) (RegionLocation, bool) {
	var found *directoryItem
	d.sorted.DescendLessOrEqual(&directoryItem{startKey: key}, func(item btree.Item) bool {
		found = item.(*directoryItem)
		return false
	})
	if found == nil {
		return RegionLocation{}, false
	}
	return found.loc, true
}

// tailFrom returns, in start-key order, the region covering key followed by
// every region after it.
func (d *tableDirectory) tailFrom(key kv.Key) []RegionLocation {
	pivot := key
	if loc, ok := d.floor(key); ok {
		pivot = loc.Info.StartKey
	}
	var locs []RegionLocation
	d.sorted.AscendGreaterOrEqual(&directoryItem{startKey: pivot}, func(item btree.Item) bool {
		locs = append(locs, item.(*directoryItem).loc)
		return true
	})
	return locs
}

// regionDirectory caches, per table, the ordered map of region locations.
// Entries are created by the catalog resolver, replaced wholesale on
// install, and destroyed by invalidation.
type regionDirectory struct {
	mu     sync.RWMutex
	tables map[string]*tableDirectory
}

func newRegionDirectory() *regionDirectory {
	return &regionDirectory{tables: make(map[string]*tableDirectory)}
}

// lookup returns the location of the single region of tableName covering
// row. The table must have been resolved first.
func (c *regionDirectory) lookup(tableName []byte, row kv.Key) (RegionLocation, error) {
	c.mu.RLock()
	dir, ok := c.tables[string(tableName)]
	c.mu.RUnlock()
	if !ok {
		metrics.RegionCacheCounter.WithLabelValues(metrics.LblLookup, metrics.LblMiss).Inc()
		return RegionLocation{}, errors.Annotatef(ErrTableNotOpen, "table %s", tableName)
	}
	loc, ok := dir.floor(row)
	if !ok {
		metrics.RegionCacheCounter.WithLabelValues(metrics.LblLookup, metrics.LblMiss).Inc()
		return RegionLocation{}, errors.Annotatef(ErrTableNotOpen, "table %s has an empty directory", tableName)
	}
	metrics.RegionCacheCounter.WithLabelValues(metrics.LblLookup, metrics.LblHit).Inc()
	return loc, nil
}

// snapshot returns the cached regions of tableName whose ranges intersect
// [startRow, +inf), in start-key order.
func (c *regionDirectory) snapshot(tableName []byte, startRow kv.Key) ([]RegionLocation, error) {
	c.mu.RLock()
	dir, ok := c.tables[string(tableName)]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Annotatef(ErrTableNotOpen, "table %s", tableName)
	}
	return dir.tailFrom(startRow), nil
}

// cached reports whether tableName has a resolved directory.
func (c *regionDirectory) cached(tableName []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tables[string(tableName)]
	return ok
}

// install atomically replaces the directory of tableName.
func (c *regionDirectory) install(tableName []byte, dir *tableDirectory) {
	c.mu.Lock()
	c.tables[string(tableName)] = dir
	c.mu.Unlock()
	metrics.RegionCacheCounter.WithLabelValues(metrics.LblInstall, metrics.LblOK).Inc()
}

// invalidate removes the whole directory of tableName. Region splits and
// moves commonly cascade into neighbor metadata, so staleness of one entry
// condemns the table's entire directory.
func (c *regionDirectory) invalidate(tableName []byte) {
	c.mu.Lock()
	delete(c.tables, string(tableName))
	c.mu.Unlock()
	metrics.RegionCacheCounter.WithLabelValues(metrics.LblInvalidate, metrics.LblOK).Inc()
}

// invalidateRegion removes the directory of the table the stale region
// belongs to, forcing a full reload on next access.
func (c *regionDirectory) invalidateRegion(loc RegionLocation) {
	c.invalidate(loc.Info.TableDesc.Name)
}
