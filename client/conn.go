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

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/brahmabase/tablestore/metrics"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/util/logutil"
)

// connPool maps a server address to its reusable connection, dialing lazily
// on first use. Entries live until the pool is closed; there is no eviction.
type connPool struct {
	dialer rpc.Dialer

	mu    sync.Mutex
	conns map[string]rpc.RegionConn
}

func newConnPool(dialer rpc.Dialer) *connPool {
	return &connPool{
		dialer: dialer,
		conns:  make(map[string]rpc.RegionConn),
	}
}

// get returns the pooled connection for addr, dialing when none exists.
// Concurrent first connects to the same address may both dial; the loser is
// closed and everyone observes one handle.
func (p *connPool) get(ctx context.Context, addr string) (rpc.RegionConn, error) {
	p.mu.Lock()
	if conn, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, errors.Trace(err)
	}

	p.mu.Lock()
	if existing, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		if cerr := conn.Close(); cerr != nil {
			logutil.Logger(ctx).Warn("close duplicate connection", zap.String("addr", addr), zap.Error(cerr))
		}
		return existing, nil
	}
	p.conns[addr] = conn
	size := len(p.conns)
	p.mu.Unlock()
	metrics.ConnPoolGauge.Set(float64(size))
	return conn, nil
}

// closeAll releases every pooled connection.
func (p *connPool) closeAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]rpc.RegionConn)
	p.mu.Unlock()
	for addr, conn := range conns {
		if err := conn.Close(); err != nil {
			logutil.BgLogger().Warn("close pooled connection", zap.String("addr", addr), zap.Error(err))
		}
	}
	metrics.ConnPoolGauge.Set(0)
}
