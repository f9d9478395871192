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

// Package inode implements the on-disk inode table: a fixed-size array
// of packed inode records with direct,
// single-indirect, and double-indirect block pointers, plus the
// allocation/release of inode numbers and the sector fix-up routine that
// lazily materializes an inode's block index.
package inode

import (
	"encoding/binary"

	"github.com/jacobsa/sectorfs/geometry"
)

// DiskInodeSize is the packed size in bytes of one on-disk inode record:
// a 1-byte in_use flag, a 1-byte is_dir flag, 2 bytes of padding, a 4-byte
// length, and eight 4-byte sector pointers. Adapted from the fixed-size
// packed-record pattern fuseutil.WriteDirent uses for FUSE's variable
// length dirents, specialized here to a fixed-width record with no
// trailing name field.
const DiskInodeSize = 8 + 4*8

// InodesPerSector is the number of DiskInode records packed into one
// sector.
const InodesPerSector = geometry.SectorSize / DiskInodeSize

// MaxInodes is the size of the inode table.
const MaxInodes = geometry.InodeTableSectors * InodesPerSector

// DiskInode is the in-memory representation of one packed on-disk inode
// record.
type DiskInode struct {
	InUse  bool
	IsDir  bool
	Length uint32
	Blocks [8]geometry.SectorIdx
}

// EncodeDiskInode packs d into a DiskInodeSize-byte buffer.
func EncodeDiskInode(d *DiskInode) []byte {
	buf := make([]byte, DiskInodeSize)
	if d.InUse {
		buf[0] = 1
	}
	if d.IsDir {
		buf[1] = 1
	}
	binary.LittleEndian.PutUint32(buf[4:8], d.Length)
	for i, b := range d.Blocks {
		binary.LittleEndian.PutUint32(buf[8+4*i:12+4*i], uint32(b))
	}
	return buf
}

// DecodeDiskInode unpacks a DiskInodeSize-byte buffer into a DiskInode.
func DecodeDiskInode(buf []byte) *DiskInode {
	d := &DiskInode{
		InUse:  buf[0] != 0,
		IsDir:  buf[1] != 0,
		Length: binary.LittleEndian.Uint32(buf[4:8]),
	}
	for i := range d.Blocks {
		d.Blocks[i] = geometry.SectorIdx(binary.LittleEndian.Uint32(buf[8+4*i : 12+4*i]))
	}
	return d
}

// sectorFor and offsetFor locate inum's packed record within the inode
// table.
func sectorFor(inum geometry.Inum) geometry.SectorIdx {
	return geometry.SectorIdx(uint32(inum) / InodesPerSector)
}

func offsetFor(inum geometry.Inum) int {
	return int(uint32(inum)%InodesPerSector) * DiskInodeSize
}

// blockPointerOffset is the byte offset, within the DiskInodeSize-byte
// record, of the k'th block pointer.
func blockPointerOffset(k int) int {
	return 8 + 4*k
}
