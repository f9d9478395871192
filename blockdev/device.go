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

// Package blockdev defines the narrow interface sectorfs expects of its
// backing store, and a RAM-backed implementation for tests and the
// end-to-end scenarios in the core's test suite.
package blockdev

import (
	"fmt"

	"github.com/jacobsa/sectorfs/geometry"
)

// BlockDevice is the external collaborator sectorfs uses for all persistent
// I/O. A real implementation is expected to be backed by a raw disk or disk
// image; errors from it are fatal, since sectorfs does not journal and has
// no way to roll back a partially applied operation.
type BlockDevice interface {
	// ReadSector reads sector i into buf, which must be exactly
	// geometry.SectorSize bytes.
	ReadSector(i geometry.SectorIdx, buf []byte) error

	// WriteSector writes buf, which must be exactly geometry.SectorSize
	// bytes, to sector i.
	WriteSector(i geometry.SectorIdx, buf []byte) error

	// SectorCount returns the fixed number of sectors on the device.
	SectorCount() geometry.SectorIdx
}

// MemDevice is an in-memory BlockDevice, useful for tests and for
// configurations that don't need to survive a process restart.
type MemDevice struct {
	sectors [][geometry.SectorSize]byte
}

// NewMemDevice allocates a zeroed device of the given sector count.
func NewMemDevice(sectorCount geometry.SectorIdx) *MemDevice {
	return &MemDevice{sectors: make([][geometry.SectorSize]byte, sectorCount)}
}

func (d *MemDevice) ReadSector(i geometry.SectorIdx, buf []byte) error {
	if err := d.checkBounds(i, buf); err != nil {
		return err
	}
	copy(buf, d.sectors[i][:])
	return nil
}

func (d *MemDevice) WriteSector(i geometry.SectorIdx, buf []byte) error {
	if err := d.checkBounds(i, buf); err != nil {
		return err
	}
	copy(d.sectors[i][:], buf)
	return nil
}

func (d *MemDevice) SectorCount() geometry.SectorIdx {
	return geometry.SectorIdx(len(d.sectors))
}

func (d *MemDevice) checkBounds(i geometry.SectorIdx, buf []byte) error {
	if len(buf) != geometry.SectorSize {
		return fmt.Errorf("blockdev: buffer of size %d, want %d", len(buf), geometry.SectorSize)
	}
	if int(i) >= len(d.sectors) {
		return fmt.Errorf("blockdev: sector %d out of range [0, %d)", i, len(d.sectors))
	}
	return nil
}
