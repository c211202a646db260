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

// Package client is the region-directory and request-dispatch engine of the
// table store. It resolves row keys to the region server currently
// responsible for them by navigating the two-level root/meta catalog, caches
// those resolutions, detects staleness through server error kinds, and wraps
// reads, scans, and single-row update sessions with a bounded
// invalidate-and-retry policy.
package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/brahmabase/tablestore/config"
	"github.com/brahmabase/tablestore/kv"
	"github.com/brahmabase/tablestore/rpc"
	"github.com/brahmabase/tablestore/table"
	"github.com/brahmabase/tablestore/util/logutil"
)

// Client routes table operations to the region servers currently serving
// them. A client is safe for concurrent use; all methods that mutate cache
// state serialize internally.
type Client struct {
	conf  *config.Config
	uid   string
	pause time.Duration

	pool   *connPool
	master *masterLocator
	dir    *regionDirectory
	closed atomic.Bool
}

// Option customizes a Client at construction time.
type Option func(*options)

type options struct {
	dialer       rpc.Dialer
	masterDialer rpc.MasterDialer
}

// WithDialer replaces the region server transport.
func WithDialer(d rpc.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithMasterDialer replaces the master transport.
func WithMasterDialer(d rpc.MasterDialer) Option {
	return func(o *options) { o.masterDialer = d }
}

// New creates a client from conf. A nil conf uses the defaults.
func New(conf *config.Config, opts ...Option) (*Client, error) {
	if conf == nil {
		conf = config.NewConfig()
	}
	if err := conf.Valid(); err != nil {
		return nil, errors.Trace(err)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.dialer == nil || o.masterDialer == nil {
		g := &rpc.GRPCDialer{}
		if o.dialer == nil {
			o.dialer = g
		}
		if o.masterDialer == nil {
			o.masterDialer = g
		}
	}
	c := &Client{
		conf:  conf,
		uid:   uuid.New().String(),
		pause: conf.PauseDuration(),
		dir:   newRegionDirectory(),
	}
	c.pool = newConnPool(o.dialer)
	c.master = newMasterLocator(conf.Master.Address, o.masterDialer, conf.Client.Retries.Number, c.pause)
	logutil.BgLogger().Info("table store client created",
		zap.String("client", c.uid),
		zap.String("master", conf.Master.Address))
	return c, nil
}

// OpenTable resolves the region directory of name so later operations can be
// routed. Opening an already open table is a no-op.
func (c *Client) OpenTable(name []byte) error {
	if err := c.checkTable(name); err != nil {
		return errors.Trace(err)
	}
	if c.dir.cached(name) {
		return nil
	}
	ctx := c.opCtx()
	return errors.Trace(c.resolveTable(ctx, name))
}

// Get returns the latest value of one cell, or nil when the cell does not
// exist.
func (c *Client) Get(tableName, row, column []byte) ([]byte, error) {
	vals, err := c.GetVersions(tableName, row, column, 1)
	if err != nil || len(vals) == 0 {
		return nil, errors.Trace(err)
	}
	return vals[0], nil
}

// GetVersions returns up to numVersions values of one cell, newest first.
func (c *Client) GetVersions(tableName, row, column []byte, numVersions int) ([][]byte, error) {
	return c.getVersions(tableName, row, column, numVersions, 0)
}

// GetVersionsBefore returns up to numVersions values of one cell written at
// or before timestamp, newest first.
func (c *Client) GetVersionsBefore(tableName, row, column []byte, timestamp uint64, numVersions int) ([][]byte, error) {
	return c.getVersions(tableName, row, column, numVersions, timestamp)
}

func (c *Client) getVersions(tableName, row, column []byte, numVersions int, timestamp uint64) ([][]byte, error) {
	if err := c.checkTableRow(tableName, row); err != nil {
		return nil, errors.Trace(err)
	}
	ctx := c.opCtx()
	var vals [][]byte
	err := c.withRegionRetry(ctx, tableName, row, func(conn rpc.RegionConn, loc RegionLocation) error {
		var err error
		vals, err = conn.Get(ctx, loc.Info.RegionName, row, column, numVersions, timestamp)
		return err
	})
	return vals, errors.Trace(err)
}

// GetRow returns the latest version of every cell of a row.
func (c *Client) GetRow(tableName, row []byte) ([]rpc.Cell, error) {
	if err := c.checkTableRow(tableName, row); err != nil {
		return nil, errors.Trace(err)
	}
	ctx := c.opCtx()
	var cells []rpc.Cell
	err := c.withRegionRetry(ctx, tableName, row, func(conn rpc.RegionConn, loc RegionLocation) error {
		var err error
		cells, err = conn.GetRow(ctx, loc.Info.RegionName, row)
		return err
	})
	return cells, errors.Trace(err)
}

// Close releases every pooled connection and the cached master handle.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.pool.closeAll()
	c.master.invalidate()
	logutil.BgLogger().Info("table store client closed", zap.String("client", c.uid))
	return nil
}

// opCtx is the context every internal operation runs under. The client's id
// rides along for logging.
func (c *Client) opCtx() context.Context {
	return logutil.WithKeyValue(context.Background(), "client", c.uid)
}

// checkTable rejects empty and reserved table names before any RPC happens.
func (c *Client) checkTable(tableName []byte) error {
	if c.closed.Load() {
		return errors.Trace(ErrClientClosed)
	}
	if len(tableName) == 0 {
		return errors.Annotate(ErrIllegalArgument, "table name must not be empty")
	}
	if table.IsReservedName(tableName) {
		return errors.Annotatef(ErrIllegalArgument, "%s is a reserved table name", tableName)
	}
	return nil
}

// checkTableRow additionally rejects empty row keys.
func (c *Client) checkTableRow(tableName []byte, row kv.Key) error {
	if err := c.checkTable(tableName); err != nil {
		return errors.Trace(err)
	}
	if len(row) == 0 {
		return errors.Annotate(ErrIllegalArgument, "row key must not be empty")
	}
	return nil
}
