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

// Package rwmu implements a reader/writer lock with promotion and demotion,
// the primitive the buffer cache relies on: a reader that decides to mutate
// a slot can promote to a writer in a single call (Promote gives up its own
// read share while it waits, so another writer may acquire the lock first),
// and a writer that has finished a write-back can demote back to a
// reader so that other readers proceed immediately rather than waiting for
// an Unlock/RLock round trip.
//
// sync.RWMutex supports neither upgrade nor downgrade, so this is built
// from sync.Mutex and sync.Cond.
package rwmu

import "sync"

// RWMu is a reader/writer lock supporting promotion and demotion.
//
// The zero value is not usable; construct with New.
type RWMu struct {
	mu      sync.Mutex
	cond    *sync.Cond
	readers int
	writer  bool
}

// New returns a ready-to-use lock.
func New() *RWMu {
	m := &RWMu{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// RLock acquires a shared (reader) lock, blocking while a writer holds it.
func (m *RWMu) RLock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.writer {
		m.cond.Wait()
	}
	m.readers++
}

// RUnlock releases a shared lock acquired with RLock.
func (m *RWMu) RUnlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readers--
	if m.readers == 0 {
		m.cond.Broadcast()
	}
}

// Lock acquires an exclusive (writer) lock, blocking while any reader or
// writer holds it.
func (m *RWMu) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.writer || m.readers > 0 {
		m.cond.Wait()
	}
	m.writer = true
}

// Unlock releases an exclusive lock acquired with Lock or Promote.
func (m *RWMu) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writer = false
	m.cond.Broadcast()
}

// Promote upgrades a held shared lock to an exclusive lock. The caller must
// currently hold a read lock acquired via RLock; it must not call RUnlock
// afterward, but Unlock (or Demote) instead.
//
// Promote releases the caller's own read share before waiting for all other
// readers to drain, so two concurrent promoters do not deadlock against each
// other; the first to observe readers == 0 wins the writer slot.
func (m *RWMu) Promote() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readers--
	for m.writer || m.readers > 0 {
		m.cond.Wait()
	}
	m.writer = true
}

// Demote downgrades a held exclusive lock back to a shared lock, letting
// other readers proceed immediately. The caller must follow up with
// RUnlock, not Unlock.
func (m *RWMu) Demote() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writer = false
	m.readers++
	m.cond.Broadcast()
}

// TryLock attempts to acquire an exclusive lock without blocking. It reports
// whether the lock was acquired. Used by the clock eviction sweep, which
// must skip slots it cannot lock rather than stall the whole cache.
func (m *RWMu) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer || m.readers > 0 {
		return false
	}
	m.writer = true
	return true
}
