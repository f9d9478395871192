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
	"context"
	"log"
	"time"

	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/timeutil"
)

// FlushPeriod is the cadence of the write-back loop.
const FlushPeriod = 30 * time.Second

// Sleeper abstracts the timer primitive the flush loop blocks on. Real code
// wires RealSleeper; tests wire a fake that returns as soon as it is told
// to, so a 30-second period doesn't make the test suite slow. Sleep must
// return early, without waiting out the full duration, once ctx is done,
// or shutdown would stall for the remainder of the period.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration)
}

// RealSleeper sleeps using the real wall clock.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// RunFlushLoop sleeps for FlushPeriod, then scans every resident slot and
// every registered external extent, writing back anything dirty, until ctx
// is done. It is meant to run as one of the two permanent high-priority
// worker tasks.
func (c *Cache) RunFlushLoop(ctx context.Context, clock timeutil.Clock, sleeper Sleeper, logger *log.Logger) {
	for {
		sleeper.Sleep(ctx, FlushPeriod)

		select {
		case <-ctx.Done():
			return
		default:
		}

		start := clock.Now()
		n := c.flushOnce()
		if logger != nil && n > 0 {
			logger.Printf("bufcache: flushed %d dirty extent(s) in %s", n, clock.Now().Sub(start))
		}
	}
}

// Flush performs one synchronous write-back sweep of every dirty slot
// and external extent. Used for an orderly shutdown, where write-back
// must be synchronous and unbounded.
func (c *Cache) Flush() {
	c.flushOnce()
}

func (c *Cache) flushOnce() (flushed int) {
	for i := 0; i < NumSlots; i++ {
		s := c.slots[i]

		s.rw.RLock()
		c.mu.Lock()
		dirty := s.dirty && s.state != stateFree
		sector := s.sector
		var data []byte
		if dirty {
			data = append([]byte(nil), s.data[:]...)
		}
		c.mu.Unlock()

		if dirty {
			fatal(c.dev.WriteSector(sector, data))
			c.mu.Lock()
			s.dirty = false
			c.mu.Unlock()
			flushed++
		}
		s.rw.RUnlock()
	}

	c.mu.Lock()
	exts := make([]*externalExtent, 0, len(c.externals))
	for _, e := range c.externals {
		exts = append(exts, e)
	}
	c.mu.Unlock()

	for _, e := range exts {
		e.mu.Lock()
		if e.dirty {
			fatal(c.writeExternal(e))
			e.dirty = false
			flushed++
		}
		e.mu.Unlock()
	}

	return flushed
}

// RunPrefetchLoop drains the semaphore-gated prefetch queue until ctx is
// done. Each request runs the ordinary miss path (so the sector ends up
// resident exactly as it would from a real Read) and then releases its
// reader lock; a request whose sector turns out to already be resident is
// a cheap no-op.
func (c *Cache) RunPrefetchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sector := <-c.prefetchCh:
			c.prefetchSem.Release(1)
			c.servicePrefetch(sector)
		}
	}
}

func (c *Cache) servicePrefetch(sector geometry.SectorIdx) {
	s, fresh, err := c.resolve(sector, PriNormal)
	if err != nil {
		// Allocation/eviction failure during a prefetch is silently
		// dropped; the request was only ever a hint.
		return
	}
	if fresh {
		s.rw.Demote()
	} else {
		s.rw.RLock()
	}
	s.rw.RUnlock()
}
