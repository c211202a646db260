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

package kv

import "bytes"

// Key represents a row key. Keys are ordered lexicographically, and the empty
// key is the open-bound sentinel on both ends of a range.
type Key []byte

// Next returns the smallest key strictly greater than k in byte order.
func (k Key) Next() Key {
	// add 0x0 to the end of key
	buf := make([]byte, len(k)+1)
	copy(buf, k)
	return buf
}

// Cmp returns the comparison result of two keys.
// The result will be 0 if k == another, -1 if k < another, and +1 if k > another.
func (k Key) Cmp(another Key) int {
	return bytes.Compare(k, another)
}

// HasPrefix tests whether the key begins with prefix.
func (k Key) HasPrefix(prefix Key) bool {
	return bytes.HasPrefix(k, prefix)
}

// Clone returns a deep copy of the key.
func (k Key) Clone() Key {
	ck := make([]byte, len(k))
	copy(ck, k)
	return ck
}

// IsEmpty reports whether k is the open-bound sentinel.
func (k Key) IsEmpty() bool {
	return len(k) == 0
}

// KeyRange represents a range where StartKey <= key < EndKey. An empty
// StartKey means "before every key", an empty EndKey means "after every key".
type KeyRange struct {
	StartKey Key
	EndKey   Key
}

// Contains reports whether key falls inside the range.
func (r *KeyRange) Contains(key Key) bool {
	return bytes.Compare(r.StartKey, key) <= 0 &&
		(len(r.EndKey) == 0 || bytes.Compare(key, r.EndKey) < 0)
}
