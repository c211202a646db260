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

package rpc

import (
	"context"
	"fmt"

	"github.com/pingcap/errors"

	"github.com/brahmabase/tablestore/kv"
	"github.com/brahmabase/tablestore/table"
)

// Cell is one column value of a row.
type Cell struct {
	Column []byte
	Value  []byte
}

// ErrorKind classifies a failure reported by a remote server.
type ErrorKind int32

// Remote error kinds.
const (
	KindOther ErrorKind = iota
	KindNotServingRegion
	KindWrongRegion
	KindRegionNotFound
	KindUnknownScanner
	KindInvalidColumnName
	KindLockError
	KindTableNotDisabled
	KindTableExists
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotServingRegion:
		return "NotServingRegion"
	case KindWrongRegion:
		return "WrongRegion"
	case KindRegionNotFound:
		return "RegionNotFound"
	case KindUnknownScanner:
		return "UnknownScanner"
	case KindInvalidColumnName:
		return "InvalidColumnName"
	case KindLockError:
		return "LockError"
	case KindTableNotDisabled:
		return "TableNotDisabled"
	case KindTableExists:
		return "TableExists"
	}
	return "Other"
}

// Error is a failure relayed from a remote server together with its
// server-side kind.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.Kind, e.Msg)
}

// Errorf builds a remote error of the given kind.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// RemoteKind returns the server-side kind of err when err is a relayed
// remote error.
func RemoteKind(err error) (ErrorKind, bool) {
	if re, ok := errors.Cause(err).(*Error); ok {
		return re.Kind, true
	}
	return KindOther, false
}

// RegionConn is the per-server handle the client routes region operations
// through. One connection serves every region hosted by its server.
type RegionConn interface {
	// GetRegionInfo asks the server to describe one of its regions.
	GetRegionInfo(ctx context.Context, regionName []byte) (*table.RegionInfo, error)
	// Get returns up to numVersions values of a cell, newest first. A zero
	// timestamp means "now"; otherwise only versions at or before timestamp
	// are returned.
	Get(ctx context.Context, regionName, row, column []byte, numVersions int, timestamp uint64) ([][]byte, error)
	// GetRow returns the latest version of every cell of a row.
	GetRow(ctx context.Context, regionName, row []byte) ([]Cell, error)
	// OpenScanner opens a server-side cursor over the region for the given
	// columns, positioned at the first row >= startRow.
	OpenScanner(ctx context.Context, regionName []byte, columns [][]byte, startRow []byte) (int64, error)
	// Next returns the next row of an open scanner. An empty cell slice
	// means the scanner is exhausted.
	Next(ctx context.Context, scannerID int64) (kv.Key, []Cell, error)
	// CloseScanner releases a server-side cursor.
	CloseScanner(ctx context.Context, scannerID int64) error
	// StartUpdate opens a server-side row lock and returns its id.
	StartUpdate(ctx context.Context, regionName []byte, clientID uint64, row []byte) (int64, error)
	// Put buffers a cell write under an open lock.
	Put(ctx context.Context, regionName []byte, clientID uint64, lockID int64, column, value []byte) error
	// Delete buffers a cell deletion under an open lock.
	Delete(ctx context.Context, regionName []byte, clientID uint64, lockID int64, column []byte) error
	// Abort releases an open lock, discarding buffered mutations.
	Abort(ctx context.Context, regionName []byte, clientID uint64, lockID int64) error
	// Commit atomically applies the mutations buffered under a lock.
	Commit(ctx context.Context, regionName []byte, clientID uint64, lockID int64) error
	// Close releases the connection.
	Close() error
}

// MasterConn is the handle for cluster-level administration.
type MasterConn interface {
	// IsMasterRunning is the liveness probe used when locating the master.
	IsMasterRunning(ctx context.Context) (bool, error)
	// FindRootRegion returns the address currently serving the root region.
	// ok is false while the master does not know a location yet.
	FindRootRegion(ctx context.Context) (addr string, ok bool, err error)
	CreateTable(ctx context.Context, desc *table.TableDescriptor) error
	DeleteTable(ctx context.Context, name []byte) error
	AddColumn(ctx context.Context, tableName []byte, col *table.ColumnDescriptor) error
	DeleteColumn(ctx context.Context, tableName, colName []byte) error
	EnableTable(ctx context.Context, name []byte) error
	DisableTable(ctx context.Context, name []byte) error
	Shutdown(ctx context.Context) error
	Close() error
}

// Dialer opens connections to region servers.
type Dialer interface {
	Dial(ctx context.Context, addr string) (RegionConn, error)
}

// MasterDialer opens connections to the master.
type MasterDialer interface {
	DialMaster(ctx context.Context, addr string) (MasterConn, error)
}
