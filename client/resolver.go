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
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/zap"

	"github.com/brahmabase/tablestore/metrics"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/table"
	"github.com/brahmabase/tablestore/util/logutil"
)

// resolveTable loads the region directory of tableName from the catalog and
// installs it, replacing whatever was cached. Root resolves at the master,
// meta resolves by scanning root, user tables resolve by scanning meta.
func (c *Client) resolveTable(ctx context.Context, tableName []byte) error {
	start := time.Now()
	var kind string
	var err error
	switch {
	case bytes.Equal(tableName, table.RootTableName):
		kind, err = "root", c.resolveRoot(ctx)
	case bytes.Equal(tableName, table.MetaTableName):
		kind, err = "meta", c.resolveMeta(ctx)
	default:
		kind, err = "user", c.resolveUserTable(ctx, tableName)
	}
	metrics.ResolveDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	return errors.Trace(err)
}

// ensureResolved resolves tableName unless a directory is already cached.
func (c *Client) ensureResolved(ctx context.Context, tableName []byte) error {
	if c.dir.cached(tableName) {
		return nil
	}
	return errors.Trace(c.resolveTable(ctx, tableName))
}

// resolveRoot asks the master where the root region lives and validates the
// answer against the hosting server itself. The inner loop waits for the
// master to know a location at all; the outer loop restarts when the named
// server turns out not to serve root anymore.
func (c *Client) resolveRoot(ctx context.Context) error {
	master, err := c.master.ensure(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	retries := c.conf.Client.Retries.Number
	for try := 0; try < retries; try++ {
		if try > 0 {
			sleepPause(ctx, c.pause)
		}
		addr, err := c.waitRootAddress(ctx, master)
		if err != nil {
			return errors.Trace(err)
		}
		conn, err := c.pool.get(ctx, addr)
		if err != nil {
			return errors.Trace(err)
		}
		info, err := conn.GetRegionInfo(ctx, table.RootRegionName)
		if err != nil {
			if kind, ok := rpc.RemoteKind(err); ok && kind == rpc.KindNotServingRegion {
				logutil.Logger(ctx).Info("root region moved away from the address the master gave us",
					zap.String("addr", addr),
					zap.Int("attempt", try))
				continue
			}
			return translateRemote(err)
		}
		dir := newTableDirectory()
		dir.insert(RegionLocation{Info: info, Addr: addr})
		c.dir.install(table.RootTableName, dir)
		logutil.Logger(ctx).Info("root region resolved", zap.String("addr", addr))
		return nil
	}
	return errors.Annotate(ErrNoServerForRegion, "root region location could not be validated")
}

// waitRootAddress polls the master until it reports a root location.
func (c *Client) waitRootAddress(ctx context.Context, master rpc.MasterConn) (string, error) {
	retries := c.conf.Client.Retries.Number
	for try := 0; try < retries; try++ {
		if try > 0 {
			sleepPause(ctx, c.pause)
		}
		addr, ok, err := master.FindRootRegion(ctx)
		if err != nil {
			return "", translateRemote(err)
		}
		if ok {
			return addr, nil
		}
		logutil.Logger(ctx).Info("master does not know the root region location yet", zap.Int("attempt", try))
	}
	return "", errors.Annotate(ErrNoServerForRegion, "master never reported a root region location")
}

// resolveMeta scans root's sole region for the directory of the meta table.
func (c *Client) resolveMeta(ctx context.Context) error {
	if err := c.ensureResolved(ctx, table.RootTableName); err != nil {
		return errors.Trace(err)
	}
	rootLoc, err := c.dir.lookup(table.RootTableName, nil)
	if err != nil {
		return errors.Trace(err)
	}
	locs, err := c.scanCatalogRegion(ctx, rootLoc, table.MetaTableName)
	if err != nil {
		return errors.Trace(err)
	}
	if len(locs) == 0 {
		return errors.Annotate(ErrNoServerForRegion, "root region holds no meta regions")
	}
	dir := newTableDirectory()
	for _, loc := range locs {
		dir.insert(loc)
	}
	c.dir.install(table.MetaTableName, dir)
	return nil
}

// resolveUserTable scans the meta regions that can hold rows for tableName,
// starting at the region covering the table's name and extending to the last
// meta region.
func (c *Client) resolveUserTable(ctx context.Context, tableName []byte) error {
	if err := c.ensureResolved(ctx, table.MetaTableName); err != nil {
		return errors.Trace(err)
	}
	metaRegions, err := c.dir.snapshot(table.MetaTableName, tableName)
	if err != nil {
		return errors.Trace(err)
	}
	dir := newTableDirectory()
	for _, metaLoc := range metaRegions {
		locs, err := c.scanCatalogRegion(ctx, metaLoc, tableName)
		if err != nil {
			return errors.Trace(err)
		}
		for _, loc := range locs {
			dir.insert(loc)
		}
	}
	if dir.len() == 0 {
		return errors.Annotatef(ErrRegionNotFound, "table %s", tableName)
	}
	c.dir.install(tableName, dir)
	logutil.Logger(ctx).Info("table directory resolved",
		zap.ByteString("table", tableName),
		zap.Int("regions", dir.len()))
	return nil
}

// scanCatalogRegion reads the run of rows describing targetTable's regions
// out of one catalog region. While any of the run's regions still lacks a
// server assignment the partial result is discarded and the scan repeated
// after a pause, up to the retry bound.
func (c *Client) scanCatalogRegion(ctx context.Context, catalogLoc RegionLocation, targetTable []byte) ([]RegionLocation, error) {
	retries := c.conf.Client.Retries.Number
	for try := 0; try < retries; try++ {
		if try > 0 {
			sleepPause(ctx, c.pause)
		}
		locs, unassigned, err := c.scanCatalogOnce(ctx, catalogLoc, targetTable)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !unassigned {
			return locs, nil
		}
		logutil.Logger(ctx).Info("catalog row has no server assignment yet, retrying",
			zap.ByteString("table", targetTable),
			zap.ByteString("catalogRegion", catalogLoc.Info.RegionName),
			zap.Int("attempt", try))
	}
	return nil, errors.Annotatef(ErrNoServerForRegion, "regions of table %s stayed unassigned", targetTable)
}

// scanCatalogOnce walks one catalog region once. It opens a server-side
// scanner over the regioninfo and server columns with the target table name
// as the hint row, and decodes rows until the run of descriptors for
// targetTable ends. unassigned is set when a descriptor lacks a server
// value; the partial result must then be thrown away by the caller.
func (c *Client) scanCatalogOnce(ctx context.Context, catalogLoc RegionLocation, targetTable []byte) (locs []RegionLocation, unassigned bool, err error) {
	conn, err := c.pool.get(ctx, catalogLoc.Addr)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	columns := [][]byte{table.ColRegionInfo, table.ColServer}
	scannerID, err := conn.OpenScanner(ctx, catalogLoc.Info.RegionName, columns, targetTable)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	defer func() {
		if cerr := conn.CloseScanner(ctx, scannerID); cerr != nil {
			logutil.Logger(ctx).Warn("close catalog scanner",
				zap.ByteString("catalogRegion", catalogLoc.Info.RegionName),
				zap.Error(cerr))
		}
	}()

	failpoint.Inject("catalogScanPause", func(val failpoint.Value) {
		if ms, ok := val.(int); ok {
			sleepPause(ctx, time.Duration(ms)*time.Millisecond)
		}
	})

	for {
		_, cells, err := conn.Next(ctx, scannerID)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		if len(cells) == 0 {
			return locs, false, nil
		}
		var info *table.RegionInfo
		var addr string
		for _, cell := range cells {
			switch {
			case bytes.Equal(cell.Column, table.ColRegionInfo):
				info, err = table.UnmarshalRegionInfo(cell.Value)
				if err != nil {
					return nil, false, errors.Trace(err)
				}
			case bytes.Equal(cell.Column, table.ColServer):
				addr = string(cell.Value)
			}
		}
		if info == nil {
			logutil.Logger(ctx).Warn("catalog row without a region descriptor, skipping",
				zap.ByteString("catalogRegion", catalogLoc.Info.RegionName))
			continue
		}
		if !bytes.Equal(info.TableDesc.Name, targetTable) {
			// Rows are ordered, the run of interest is over.
			return locs, false, nil
		}
		if info.Offline {
			return nil, false, errors.Annotatef(ErrTableOffline, "table %s", targetTable)
		}
		if addr == "" {
			return nil, true, nil
		}
		locs = append(locs, RegionLocation{Info: info, Addr: addr})
	}
}
