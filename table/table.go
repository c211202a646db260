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

package table

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/pingcap/errors"

	"github.com/brahmabase/tablestore/kv"
)

// Reserved catalog table names. The root table is the single-region catalog
// indexing the meta table; the meta table indexes every user table.
var (
	RootTableName = []byte("-ROOT-")
	MetaTableName = []byte(".META.")
)

// RootRegionName is the immovable name of the root table's only region.
var RootRegionName = []byte("-ROOT-,,0")

// Catalog row columns. A catalog row describing one region carries the
// serialized descriptor under ColRegionInfo and, while the region is
// assigned, the serving address under ColServer.
var (
	ColRegionInfo = []byte("info:regioninfo")
	ColServer     = []byte("info:server")
)

// ColumnDelimiter separates the family from the qualifier in a column name.
const ColumnDelimiter = ':'

// IsReservedName reports whether name is one of the catalog table names.
func IsReservedName(name []byte) bool {
	return bytes.Equal(name, RootTableName) || bytes.Equal(name, MetaTableName)
}

// ValidColumnName reports whether col has a non-empty family name followed
// by the family delimiter.
func ValidColumnName(col []byte) bool {
	return bytes.IndexByte(col, ColumnDelimiter) > 0
}

// ColumnDescriptor defines one column family of a table.
type ColumnDescriptor struct {
	// Name is the family name, including the trailing delimiter.
	Name []byte
	// MaxVersions bounds how many timestamped versions of a cell are kept.
	MaxVersions int
}

// TableDescriptor is a table name plus its column family definitions.
type TableDescriptor struct {
	Name    []byte
	Columns []ColumnDescriptor
}

// NewTableDescriptor builds a descriptor for name with the given families.
func NewTableDescriptor(name string, families ...string) *TableDescriptor {
	desc := &TableDescriptor{Name: []byte(name)}
	for _, f := range families {
		desc.Columns = append(desc.Columns, ColumnDescriptor{Name: []byte(f), MaxVersions: 3})
	}
	return desc
}

// RegionInfo describes one region of a table: a contiguous key range
// [StartKey, EndKey) served by one server at a time. An empty EndKey means
// the region extends to the end of the table's key space.
type RegionInfo struct {
	RegionName []byte
	StartKey   kv.Key
	EndKey     kv.Key
	TableDesc  TableDescriptor
	Offline    bool
}

// NewRegionInfo derives a region of desc covering [startKey, endKey). The id
// makes the region name unique across splits of the same range.
func NewRegionInfo(desc TableDescriptor, startKey, endKey kv.Key, id uint64) *RegionInfo {
	return &RegionInfo{
		RegionName: []byte(fmt.Sprintf("%s,%s,%d", desc.Name, startKey, id)),
		StartKey:   startKey,
		EndKey:     endKey,
		TableDesc:  desc,
	}
}

// Contains reports whether the region's key range covers key.
func (ri *RegionInfo) Contains(key kv.Key) bool {
	return bytes.Compare(ri.StartKey, key) <= 0 &&
		(len(ri.EndKey) == 0 || bytes.Compare(key, ri.EndKey) < 0)
}

// ContainsByEnd reports whether key falls in (StartKey, EndKey], the
// convention used when locating a region by an exclusive upper bound.
func (ri *RegionInfo) ContainsByEnd(key kv.Key) bool {
	return bytes.Compare(ri.StartKey, key) < 0 &&
		(len(ri.EndKey) == 0 || bytes.Compare(key, ri.EndKey) <= 0)
}

func (ri *RegionInfo) String() string {
	return fmt.Sprintf("region %s [%q, %q)", ri.RegionName, ri.StartKey, ri.EndKey)
}

// Marshal serializes the descriptor for storage in a catalog row.
func (ri *RegionInfo) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ri); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

// UnmarshalRegionInfo decodes a descriptor read from a catalog row.
func UnmarshalRegionInfo(data []byte) (*RegionInfo, error) {
	ri := new(RegionInfo)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(ri); err != nil {
		return nil, errors.Trace(err)
	}
	return ri, nil
}
