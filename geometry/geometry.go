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

// Package geometry holds the fixed on-disk layout constants shared by
// every layer of sectorfs. There is no superblock beyond these
// constants: they are baked into the binary.
package geometry

// SectorIdx addresses a single fixed-size sector on the backing device.
type SectorIdx uint32

// Inum is the persistent integer identity of an inode.
type Inum uint32

const (
	// SectorSize is the size in bytes of one device-addressable sector.
	SectorSize = 512

	// InodeTableSectors is the number of sectors reserved for the inode
	// table, starting at sector 0.
	InodeTableSectors = 100

	// FreeMapSectors is the number of sectors reserved for the free-map
	// bitmap, immediately following the inode table. It must be large
	// enough to hold one bit per sector on the largest device this binary
	// is built to support; 32 sectors hold one bit each for up to 131072
	// sectors, and the free map itself tolerates a device with fewer
	// sectors than that.
	FreeMapSectors = 32

	// RootInum is the inode number of the root directory. Its on-disk
	// entry lives at sector 0, offset 0.
	RootInum Inum = 0

	// NameMax is the maximum length in bytes of a single path component.
	NameMax = 14

	// Indexing tiers, in units of SectorIdx pointers.
	Direct = 5 // number of direct block pointers
	SID    = 2 // number of single-indirect pointers
	DID    = 1 // number of double-indirect pointers

	// Fanout is the number of SectorIdx pointers that fit in one index
	// sector (SectorSize / sizeof(SectorIdx)).
	Fanout = SectorSize / 4

	// DirectLimit is the first block index not covered by direct pointers.
	DirectLimit = Direct

	// SidLimit is the first block index not covered by direct + single
	// indirect pointers.
	SidLimit = Direct + SID*Fanout

	// DidLimit is the first block index not covered by direct + single +
	// double indirect pointers: the maximum file size in sectors.
	DidLimit = SidLimit + DID*Fanout*Fanout

	// MaxFileSize is the maximum file size in bytes.
	MaxFileSize = DidLimit * SectorSize
)

// BlockOffset classifies a zero-based block index into one of the three
// indexing tiers.
type BlockOffset int

const (
	// BlockInvalid marks an index at or beyond DidLimit.
	BlockInvalid BlockOffset = iota
	BlockDirect
	BlockSingleIndirect
	BlockDoubleIndirect
)

// Classify returns which indexing tier backs block index idx, along with the
// index-local offsets needed to walk down to it. For BlockDirect, slot is the
// direct pointer index. For BlockSingleIndirect, top is the single-indirect
// pointer index (within SID) and slot is the offset within that index
// sector. For BlockDoubleIndirect, top is always 0 (there is exactly one
// double-indirect pointer), mid is the offset within the top index sector,
// and slot is the offset within the leaf index sector.
func Classify(idx int) (tier BlockOffset, top, mid, slot int) {
	switch {
	case idx < 0:
		tier = BlockInvalid
	case idx < DirectLimit:
		tier = BlockDirect
		slot = idx
	case idx < SidLimit:
		tier = BlockSingleIndirect
		rel := idx - DirectLimit
		top = rel / Fanout
		slot = rel % Fanout
	case idx < DidLimit:
		tier = BlockDoubleIndirect
		rel := idx - SidLimit
		top = 0
		mid = rel / Fanout
		slot = rel % Fanout
	default:
		tier = BlockInvalid
	}
	return
}
