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

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/brahmabase/tablestore/kv"
	"github.com/brahmabase/tablestore/metrics"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/util/logutil"
)

// Scanner iterates the rows of a table across every region whose range
// intersects [startRow, +inf), in strictly increasing key order. It holds at
// most one server-side scanner at a time and survives regions moving under
// it by reloading the table's directory.
type Scanner struct {
	client    *Client
	tableName []byte
	columns   [][]byte

	// remaining[0] is the region currently being scanned.
	remaining []RegionLocation
	conn      rpc.RegionConn
	scannerID int64
	open      bool
	closed    atomic.Bool
}

// OpenScanner starts a scan of tableName over the given columns at startRow.
// An empty startRow scans the table from its first region.
func (c *Client) OpenScanner(tableName []byte, columns [][]byte, startRow []byte) (*Scanner, error) {
	if err := c.checkTable(tableName); err != nil {
		return nil, errors.Trace(err)
	}
	ctx := c.opCtx()
	remaining, err := c.dir.snapshot(tableName, startRow)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := &Scanner{
		client:    c,
		tableName: tableName,
		columns:   columns,
		remaining: remaining,
	}
	if err := s.openCurrent(ctx, startRow); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Next returns the next row of the scan. A nil key means the scan is over.
func (s *Scanner) Next() (kv.Key, []rpc.Cell, error) {
	if s.closed.Load() {
		return nil, nil, nil
	}
	ctx := s.client.opCtx()
	for {
		key, cells, err := s.conn.Next(ctx, s.scannerID)
		if err != nil {
			s.shutdown(ctx)
			return nil, nil, translateRemote(err)
		}
		if len(cells) > 0 {
			return key, cells, nil
		}
		// This region is drained, move on to the next one in the snapshot.
		s.closeCurrent(ctx)
		s.remaining = s.remaining[1:]
		if len(s.remaining) == 0 {
			s.closed.Store(true)
			return nil, nil, nil
		}
		if err := s.openCurrent(ctx, nil); err != nil {
			s.closed.Store(true)
			return nil, nil, errors.Trace(err)
		}
	}
}

// Close releases the open server-side scanner, if any. Next calls after
// Close report the end of the scan.
func (s *Scanner) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.closeCurrent(s.client.opCtx())
	return nil
}

// openCurrent opens a server-side scanner on remaining[0], passing hint as
// the initial row (the scan's startRow on the first region, the empty key on
// every later one). A stale location reloads the table's directory and
// recomputes the remaining snapshot before retrying, bounded like every
// other retried operation.
func (s *Scanner) openCurrent(ctx context.Context, hint kv.Key) error {
	retries := s.client.conf.Client.Retries.Number
	var lastErr error
	for try := 0; try < retries; try++ {
		if try > 0 {
			sleepPause(ctx, s.client.pause)
		}
		if len(s.remaining) == 0 {
			return errors.Annotatef(ErrNoServerForRegion, "table %s has no region to scan", s.tableName)
		}
		loc := s.remaining[0]
		conn, err := s.client.pool.get(ctx, loc.Addr)
		if err != nil {
			return errors.Trace(err)
		}
		id, err := conn.OpenScanner(ctx, loc.Info.RegionName, s.columns, hint)
		if err == nil {
			s.conn, s.scannerID, s.open = conn, id, true
			metrics.ScannerRegionCounter.Inc()
			return nil
		}
		if !isStaleLocation(err) {
			return translateRemote(err)
		}
		logutil.Logger(ctx).Info("scanner hit a stale region, recomputing snapshot",
			zap.ByteString("table", s.tableName),
			zap.ByteString("region", loc.Info.RegionName),
			zap.Int("attempt", try))
		metrics.StaleRegionCounter.Inc()
		s.client.dir.invalidateRegion(loc)
		lastErr = err
		if try == retries-1 {
			break
		}
		if rerr := s.client.resolveTable(ctx, s.tableName); rerr != nil {
			return errors.Trace(rerr)
		}
		resume := hint
		if len(resume) == 0 {
			resume = loc.Info.StartKey
		}
		remaining, rerr := s.client.dir.snapshot(s.tableName, resume)
		if rerr != nil {
			return errors.Trace(rerr)
		}
		s.remaining = remaining
	}
	return translateRemote(lastErr)
}

// closeCurrent releases the server-side scanner exactly once.
func (s *Scanner) closeCurrent(ctx context.Context) {
	if !s.open {
		return
	}
	if err := s.conn.CloseScanner(ctx, s.scannerID); err != nil {
		logutil.Logger(ctx).Warn("close server-side scanner",
			zap.ByteString("table", s.tableName),
			zap.Int64("scannerID", s.scannerID),
			zap.Error(err))
	}
	s.open = false
	s.conn = nil
}

// shutdown finishes the scan after a terminal error.
func (s *Scanner) shutdown(ctx context.Context) {
	if s.closed.Swap(true) {
		return
	}
	s.closeCurrent(ctx)
}
