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

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/zap"

	"github.com/brahmabase/tablestore/kv"
	"github.com/brahmabase/tablestore/metrics"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/util/logutil"
)

// sleepPause waits the retry pause. A cancelled context wakes the sleep
// early; the caller's retry budget is unchanged either way.
func sleepPause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// withRegionRetry runs op against the current location of (tableName, row).
// When a server answers that the location is stale, the table's directory is
// invalidated, re-resolved, and the operation retried after a pause, up to
// the configured attempt bound. Every other failure propagates immediately.
//
// The update-session begin and all per-row operations share this loop so
// exhaustion behaves the same everywhere.
func (c *Client) withRegionRetry(ctx context.Context, tableName []byte, row kv.Key, op func(conn rpc.RegionConn, loc RegionLocation) error) error {
	retries := c.conf.Client.Retries.Number
	var lastErr error
	for try := 0; try < retries; try++ {
		if try > 0 {
			sleepPause(ctx, c.pause)
		}
		loc, err := c.dir.lookup(tableName, row)
		if err != nil {
			return errors.Trace(err)
		}
		conn, err := c.pool.get(ctx, loc.Addr)
		if err != nil {
			return errors.Trace(err)
		}
		err = op(conn, loc)
		failpoint.Inject("staleRegionResponse", func() {
			err = rpc.Errorf(rpc.KindNotServingRegion, "injected stale response for region %s", loc.Info.RegionName)
		})
		if err == nil {
			return nil
		}
		if !isStaleLocation(err) {
			return translateRemote(err)
		}
		logutil.Logger(ctx).Info("stale region location, reloading directory",
			zap.ByteString("table", tableName),
			zap.ByteString("region", loc.Info.RegionName),
			zap.Int("attempt", try),
			zap.Error(err))
		metrics.StaleRegionCounter.Inc()
		c.dir.invalidateRegion(loc)
		if try == retries-1 {
			// Out of budget, skip the useless reload.
			lastErr = err
			break
		}
		if rerr := c.resolveTable(ctx, tableName); rerr != nil {
			return errors.Trace(rerr)
		}
		lastErr = err
	}
	return translateRemote(lastErr)
}
