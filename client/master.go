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
	"sync"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/brahmabase/tablestore/metrics"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/util/logutil"
)

// masterLocator finds the master, verifies it is alive, and caches the
// verified connection for later admin calls.
type masterLocator struct {
	addr    string
	dialer  rpc.MasterDialer
	retries int
	pause   time.Duration

	mu   sync.Mutex
	conn rpc.MasterConn
}

func newMasterLocator(addr string, dialer rpc.MasterDialer, retries int, pause time.Duration) *masterLocator {
	return &masterLocator{addr: addr, dialer: dialer, retries: retries, pause: pause}
}

// ensure returns a master connection whose liveness probe succeeded,
// retrying up to the configured bound with a pause between attempts.
func (m *masterLocator) ensure(ctx context.Context) (rpc.MasterConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.conn, nil
	}

	var lastErr error
	for try := 0; try < m.retries; try++ {
		if try > 0 {
			sleepPause(ctx, m.pause)
		}
		conn, err := m.dialer.DialMaster(ctx, m.addr)
		if err == nil {
			running, perr := conn.IsMasterRunning(ctx)
			if perr == nil && running {
				metrics.MasterConnectCounter.WithLabelValues(metrics.LblOK).Inc()
				m.conn = conn
				return conn, nil
			}
			if perr == nil {
				perr = errors.Errorf("master at %s answered the probe with false", m.addr)
			}
			if cerr := conn.Close(); cerr != nil {
				logutil.Logger(ctx).Warn("close probed master connection", zap.Error(cerr))
			}
			err = perr
		}
		metrics.MasterConnectCounter.WithLabelValues(metrics.LblError).Inc()
		logutil.Logger(ctx).Warn("master liveness check failed",
			zap.String("addr", m.addr),
			zap.Int("attempt", try),
			zap.Error(err))
		lastErr = err
	}
	return nil, errors.Annotatef(ErrMasterNotRunning, "%s: %v", m.addr, lastErr)
}

// invalidate drops the cached connection so the next ensure dials afresh.
func (m *masterLocator) invalidate() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			logutil.BgLogger().Warn("close master connection", zap.Error(err))
		}
	}
}
