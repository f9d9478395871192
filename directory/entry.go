// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package directory implements directory entries layered on top of
// inodes: a directory is an inode with IsDir set whose byte
// content is an array of fixed-size DirEntry records, manipulated with
// Lookup/Add/Remove/Readdir/Create.
package directory

import (
	"encoding/binary"

	"github.com/jacobsa/sectorfs/geometry"
)

// DirEntrySize is the packed size in bytes of one on-disk directory
// entry: a 1-byte in-use flag, a 4-byte inum, and a NameMax+1-byte name
// field (room for NameMax bytes of name plus one byte so a full-length
// name is still distinguishable from an unterminated one on decode).
const DirEntrySize = 1 + 4 + (geometry.NameMax + 1)

// DirEntry is the in-memory form of one packed on-disk directory record.
type DirEntry struct {
	InUse bool
	Inum  geometry.Inum
	Name  string
}

// EncodeDirEntry packs e into a DirEntrySize-byte buffer. The name is
// written left-justified and zero-padded; it must already have been
// validated to be at most geometry.NameMax bytes.
func EncodeDirEntry(e *DirEntry) []byte {
	buf := make([]byte, DirEntrySize)
	if e.InUse {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], uint32(e.Inum))
	copy(buf[5:], e.Name)
	return buf
}

// DecodeDirEntry unpacks a DirEntrySize-byte buffer into a DirEntry.
func DecodeDirEntry(buf []byte) *DirEntry {
	e := &DirEntry{
		InUse: buf[0] != 0,
		Inum:  geometry.Inum(binary.LittleEndian.Uint32(buf[1:5])),
	}
	nameBuf := buf[5:]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	e.Name = string(nameBuf[:n])
	return e
}
