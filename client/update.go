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
	"math/rand"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/util/logutil"
)

// UpdateSession is a single-row atomic update in progress. It is pinned to
// the region and server resolved at Begin and stays pinned for its whole
// life; commit, abort, and mutation failures all finish it, after which
// every operation reports ErrNoActiveSession.
type UpdateSession struct {
	client *Client
	loc    RegionLocation
	conn   rpc.RegionConn

	// clientID distinguishes concurrent sessions on the server; 64 random
	// bits from a non-cryptographic source are plenty.
	clientID uint64
	lockID   int64
	done     atomic.Bool
}

// Begin opens a server-side lock on row and returns the session bound to
// it. Region resolution follows the same invalidate-and-retry policy as
// every other per-row operation.
func (c *Client) Begin(tableName, row []byte) (*UpdateSession, error) {
	if err := c.checkTableRow(tableName, row); err != nil {
		return nil, errors.Trace(err)
	}
	ctx := c.opCtx()
	s := &UpdateSession{client: c, clientID: rand.Uint64()}
	err := c.withRegionRetry(ctx, tableName, row, func(conn rpc.RegionConn, loc RegionLocation) error {
		lockID, err := conn.StartUpdate(ctx, loc.Info.RegionName, s.clientID, row)
		if err != nil {
			return err
		}
		s.loc, s.conn, s.lockID = loc, conn, lockID
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Put stages a cell write under the session's lock. A failure abandons the
// session: the lock is aborted best-effort and the original error surfaces.
func (s *UpdateSession) Put(column, value []byte) error {
	if s.done.Load() {
		return errors.Trace(ErrNoActiveSession)
	}
	ctx := s.client.opCtx()
	if err := s.conn.Put(ctx, s.loc.Info.RegionName, s.clientID, s.lockID, column, value); err != nil {
		s.abandon(ctx)
		return translateRemote(err)
	}
	return nil
}

// Delete stages a cell deletion under the session's lock. Failure semantics
// match Put.
func (s *UpdateSession) Delete(column []byte) error {
	if s.done.Load() {
		return errors.Trace(ErrNoActiveSession)
	}
	ctx := s.client.opCtx()
	if err := s.conn.Delete(ctx, s.loc.Info.RegionName, s.clientID, s.lockID, column); err != nil {
		s.abandon(ctx)
		return translateRemote(err)
	}
	return nil
}

// Commit atomically applies the staged mutations. The session is finished
// when Commit returns, whatever the outcome.
func (s *UpdateSession) Commit() error {
	if s.done.Swap(true) {
		return errors.Trace(ErrNoActiveSession)
	}
	ctx := s.client.opCtx()
	return translateRemote(s.conn.Commit(ctx, s.loc.Info.RegionName, s.clientID, s.lockID))
}

// Abort discards the staged mutations. The session is finished when Abort
// returns, whatever the outcome.
func (s *UpdateSession) Abort() error {
	if s.done.Swap(true) {
		return errors.Trace(ErrNoActiveSession)
	}
	ctx := s.client.opCtx()
	return translateRemote(s.conn.Abort(ctx, s.loc.Info.RegionName, s.clientID, s.lockID))
}

// abandon finishes the session after a failed mutation, releasing the
// server-side lock best-effort. The abort's own failure is only logged so
// the mutation's error stays the one the caller sees.
func (s *UpdateSession) abandon(ctx context.Context) {
	if s.done.Swap(true) {
		return
	}
	if err := s.conn.Abort(ctx, s.loc.Info.RegionName, s.clientID, s.lockID); err != nil {
		logutil.Logger(ctx).Warn("abort after failed mutation",
			zap.ByteString("region", s.loc.Info.RegionName),
			zap.Int64("lockID", s.lockID),
			zap.Error(err))
	}
}
