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
	"github.com/pingcap/errors"

	"github.com/brahmabase/tablestore/rpc"
)

var (
	// ErrMasterNotRunning is returned when the master is unreachable or its
	// liveness probe keeps failing after the retry budget is spent.
	ErrMasterNotRunning = errors.New("master not running")
	// ErrNoServerForRegion is returned when the root region cannot be
	// located, or a region exists but stays unassigned after the retry
	// budget is spent.
	ErrNoServerForRegion = errors.New("no server for region")
	// ErrRegionNotFound is returned when the catalog holds no rows for the
	// requested table.
	ErrRegionNotFound = errors.New("region not found")
	// ErrNotServingRegion is relayed from a region server once the bounded
	// invalidate-and-retry loop gives up.
	ErrNotServingRegion = errors.New("server is not serving region")
	// ErrTableOffline is returned when a table's region is marked offline
	// during a catalog scan.
	ErrTableOffline = errors.New("table is offline")
	// ErrInvalidColumnName is relayed from the server unchanged.
	ErrInvalidColumnName = errors.New("invalid column name")
	// ErrLock is relayed from the server unchanged.
	ErrLock = errors.New("row lock error")
	// ErrTableNotDisabled is relayed from the server unchanged.
	ErrTableNotDisabled = errors.New("table not disabled")
	// ErrTableExists is relayed from the server unchanged.
	ErrTableExists = errors.New("table already exists")
	// ErrIllegalArgument covers empty table or row keys and the use of
	// reserved table names.
	ErrIllegalArgument = errors.New("illegal argument")
	// ErrNoActiveSession is returned by update-session operations after the
	// session was committed, aborted, or abandoned.
	ErrNoActiveSession = errors.New("no active update session")
	// ErrTableNotOpen is returned when an operation targets a table that has
	// not been opened by this client.
	ErrTableNotOpen = errors.New("table not open")
	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("client closed")
)

// isStaleLocation reports whether err is a server response telling us the
// cached location of a region is out of date.
func isStaleLocation(err error) bool {
	kind, ok := rpc.RemoteKind(err)
	if !ok {
		return false
	}
	switch kind {
	case rpc.KindNotServingRegion, rpc.KindWrongRegion, rpc.KindRegionNotFound:
		return true
	}
	return false
}

// translateRemote rematerializes a relayed remote error as the matching local
// kind. Errors that did not come from a server pass through unchanged.
func translateRemote(err error) error {
	if err == nil {
		return nil
	}
	re, ok := errors.Cause(err).(*rpc.Error)
	if !ok {
		return err
	}
	switch re.Kind {
	case rpc.KindNotServingRegion, rpc.KindWrongRegion:
		return errors.Annotate(ErrNotServingRegion, re.Msg)
	case rpc.KindRegionNotFound:
		return errors.Annotate(ErrRegionNotFound, re.Msg)
	case rpc.KindInvalidColumnName:
		return errors.Annotate(ErrInvalidColumnName, re.Msg)
	case rpc.KindLockError:
		return errors.Annotate(ErrLock, re.Msg)
	case rpc.KindTableNotDisabled:
		return errors.Annotate(ErrTableNotDisabled, re.Msg)
	case rpc.KindTableExists:
		return errors.Annotate(ErrTableExists, re.Msg)
	}
	return err
}
