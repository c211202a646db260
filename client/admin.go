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

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/table"
	"github.com/brahmabase/tablestore/util/logutil"
)

// tableWaitCond is the per-operation condition an admin wait-loop polls the
// catalog for.
type tableWaitCond int

const (
	// waitExists: any catalog row for the table exists.
	waitExists tableWaitCond = iota
	// waitGone: no catalog row for the table exists.
	waitGone
	// waitEnabled: the table's first region is not marked offline.
	waitEnabled
	// waitDisabled: the table's first region is marked offline.
	waitDisabled
)

func (w tableWaitCond) String() string {
	switch w {
	case waitExists:
		return "created"
	case waitGone:
		return "deleted"
	case waitEnabled:
		return "enabled"
	case waitDisabled:
		return "disabled"
	}
	return "unknown"
}

// CreateTable asks the master to create the table, then waits until its
// first region shows up in the catalog. Directories the caller already
// opened are left untouched.
func (c *Client) CreateTable(desc *table.TableDescriptor) error {
	if err := c.checkTable(desc.Name); err != nil {
		return errors.Trace(err)
	}
	ctx := c.opCtx()
	err := c.masterOp(ctx, func(master rpc.MasterConn) error {
		return master.CreateTable(ctx, desc)
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.waitOnTable(ctx, desc.Name, waitExists))
}

// DeleteTable asks the master to delete the table, then waits until its
// catalog rows disappear.
func (c *Client) DeleteTable(name []byte) error {
	if err := c.checkTable(name); err != nil {
		return errors.Trace(err)
	}
	ctx := c.opCtx()
	err := c.masterOp(ctx, func(master rpc.MasterConn) error {
		return master.DeleteTable(ctx, name)
	})
	if err != nil {
		return errors.Trace(err)
	}
	c.dir.invalidate(name)
	return errors.Trace(c.waitOnTable(ctx, name, waitGone))
}

// EnableTable brings a disabled table back online and waits until the
// catalog reflects it.
func (c *Client) EnableTable(name []byte) error {
	if err := c.checkTable(name); err != nil {
		return errors.Trace(err)
	}
	ctx := c.opCtx()
	err := c.masterOp(ctx, func(master rpc.MasterConn) error {
		return master.EnableTable(ctx, name)
	})
	if err != nil {
		return errors.Trace(err)
	}
	c.dir.invalidate(name)
	return errors.Trace(c.waitOnTable(ctx, name, waitEnabled))
}

// DisableTable takes a table offline and waits until the catalog reflects
// it.
func (c *Client) DisableTable(name []byte) error {
	if err := c.checkTable(name); err != nil {
		return errors.Trace(err)
	}
	ctx := c.opCtx()
	err := c.masterOp(ctx, func(master rpc.MasterConn) error {
		return master.DisableTable(ctx, name)
	})
	if err != nil {
		return errors.Trace(err)
	}
	c.dir.invalidate(name)
	return errors.Trace(c.waitOnTable(ctx, name, waitDisabled))
}

// AddColumn adds a column family to a disabled table.
func (c *Client) AddColumn(name []byte, col *table.ColumnDescriptor) error {
	if err := c.checkTable(name); err != nil {
		return errors.Trace(err)
	}
	ctx := c.opCtx()
	return errors.Trace(c.masterOp(ctx, func(master rpc.MasterConn) error {
		return master.AddColumn(ctx, name, col)
	}))
}

// DeleteColumn removes a column family from a disabled table.
func (c *Client) DeleteColumn(name, colName []byte) error {
	if err := c.checkTable(name); err != nil {
		return errors.Trace(err)
	}
	ctx := c.opCtx()
	return errors.Trace(c.masterOp(ctx, func(master rpc.MasterConn) error {
		return master.DeleteColumn(ctx, name, colName)
	}))
}

// Shutdown asks the master to shut the cluster down.
func (c *Client) Shutdown() error {
	ctx := c.opCtx()
	return errors.Trace(c.masterOp(ctx, func(master rpc.MasterConn) error {
		return master.Shutdown(ctx)
	}))
}

// masterOp runs one master RPC against the cached master connection. A
// transport-level failure drops the cached connection so the next call
// locates the master again.
func (c *Client) masterOp(ctx context.Context, op func(master rpc.MasterConn) error) error {
	master, err := c.master.ensure(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err := op(master); err != nil {
		if _, remote := rpc.RemoteKind(err); !remote {
			c.master.invalidate()
		}
		return translateRemote(err)
	}
	return nil
}

// waitOnTable polls the first meta region that would host rows for
// tableName until cond holds, sleeping the configured pause between polls.
// An empty poll never fails the wait: it satisfies the delete condition and
// counts as "not yet" for the other three, so the wait ends only when the
// condition holds or the attempt bound is reached.
func (c *Client) waitOnTable(ctx context.Context, tableName []byte, cond tableWaitCond) error {
	if err := c.ensureResolved(ctx, table.MetaTableName); err != nil {
		return errors.Trace(err)
	}
	retries := c.conf.Client.Retries.Number
	for try := 0; try < retries; try++ {
		if try > 0 {
			sleepPause(ctx, c.pause)
		}
		metaRegions, err := c.dir.snapshot(table.MetaTableName, tableName)
		if err != nil {
			return errors.Trace(err)
		}
		if len(metaRegions) == 0 {
			return errors.Annotate(ErrNoServerForRegion, "meta directory is empty")
		}
		ok, err := c.pollTableState(ctx, metaRegions[0], tableName, cond)
		if err != nil {
			if !isStaleLocation(err) {
				return errors.Trace(err)
			}
			// The meta region moved mid-wait; reload and spend a try.
			c.dir.invalidate(table.MetaTableName)
			if rerr := c.ensureResolved(ctx, table.MetaTableName); rerr != nil {
				return errors.Trace(rerr)
			}
			continue
		}
		if ok {
			logutil.Logger(ctx).Info("table reached the requested state",
				zap.ByteString("table", tableName),
				zap.Stringer("state", cond))
			return nil
		}
	}
	return errors.Errorf("table %s was not %s after %d tries", tableName, cond, retries)
}

// pollTableState opens a scanner restricted to the regioninfo column with
// the table name as the hint row, decodes the first row, and evaluates
// cond. The scanner is closed on every path.
func (c *Client) pollTableState(ctx context.Context, metaLoc RegionLocation, tableName []byte, cond tableWaitCond) (bool, error) {
	conn, err := c.pool.get(ctx, metaLoc.Addr)
	if err != nil {
		return false, errors.Trace(err)
	}
	scannerID, err := conn.OpenScanner(ctx, metaLoc.Info.RegionName, [][]byte{table.ColRegionInfo}, tableName)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer func() {
		if cerr := conn.CloseScanner(ctx, scannerID); cerr != nil {
			logutil.Logger(ctx).Warn("close catalog poll scanner", zap.Error(cerr))
		}
	}()

	_, cells, err := conn.Next(ctx, scannerID)
	if err != nil {
		return false, errors.Trace(err)
	}
	var info *table.RegionInfo
	for _, cell := range cells {
		if bytes.Equal(cell.Column, table.ColRegionInfo) {
			info, err = table.UnmarshalRegionInfo(cell.Value)
			if err != nil {
				return false, errors.Trace(err)
			}
			break
		}
	}
	found := info != nil && bytes.Equal(info.TableDesc.Name, tableName)
	switch cond {
	case waitExists:
		return found, nil
	case waitGone:
		return !found, nil
	case waitEnabled:
		return found && !info.Offline, nil
	case waitDisabled:
		return found && info.Offline, nil
	}
	return false, nil
}
