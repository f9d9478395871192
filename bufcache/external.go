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

package bufcache

import (
	"sync"

	"github.com/jacobsa/sectorfs/geometry"
)

// externalExtent is a contiguous run of sectors pinned in memory outside
// the slot table, used for the free map's bitmap, which is larger than
// one sector and too hot to pay cache-miss overhead on every access.
type externalExtent struct {
	mu    sync.Mutex
	start geometry.SectorIdx
	data  []byte
	dirty bool
}

// ReadExternal loads size bytes starting at sector start from the device
// and registers the resulting buffer for periodic flush. The returned slice
// is owned by the cache and is written back (but not read again) by future
// flush sweeps; callers mutate it in place and call DirtyExternal.
func (c *Cache) ReadExternal(start geometry.SectorIdx, size int) ([]byte, error) {
	data := make([]byte, size)
	sectors := (size + geometry.SectorSize - 1) / geometry.SectorSize
	buf := make([]byte, geometry.SectorSize)
	for i := 0; i < sectors; i++ {
		if err := c.dev.ReadSector(start+geometry.SectorIdx(i), buf); err != nil {
			return nil, err
		}
		copy(data[i*geometry.SectorSize:], buf)
	}

	ext := &externalExtent{start: start, data: data}
	c.mu.Lock()
	c.externals[start] = ext
	c.mu.Unlock()

	return data, nil
}

// DirtyExternal marks the extent registered at start as needing write-back
// on the next flush sweep.
func (c *Cache) DirtyExternal(start geometry.SectorIdx) {
	c.mu.Lock()
	ext := c.externals[start]
	c.mu.Unlock()

	if ext == nil {
		return
	}
	ext.mu.Lock()
	ext.dirty = true
	ext.mu.Unlock()
}

// FreeExternal writes back any pending dirty bytes of the extent at start
// synchronously and unregisters it.
func (c *Cache) FreeExternal(start geometry.SectorIdx) error {
	c.mu.Lock()
	ext := c.externals[start]
	delete(c.externals, start)
	c.mu.Unlock()

	if ext == nil {
		return nil
	}

	ext.mu.Lock()
	defer ext.mu.Unlock()
	if !ext.dirty {
		return nil
	}
	err := c.writeExternal(ext)
	if err == nil {
		ext.dirty = false
	}
	return err
}

// writeExternal writes ext's full contents to the device. ext.mu must be
// held by the caller.
func (c *Cache) writeExternal(ext *externalExtent) error {
	buf := make([]byte, geometry.SectorSize)
	for i := 0; i*geometry.SectorSize < len(ext.data); i++ {
		n := copy(buf, ext.data[i*geometry.SectorSize:])
		for j := n; j < geometry.SectorSize; j++ {
			buf[j] = 0
		}
		if err := c.dev.WriteSector(ext.start+geometry.SectorIdx(i), buf); err != nil {
			return err
		}
	}
	return nil
}
