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

// Package reentrant implements a mutex that the owning caller may
// acquire recursively, tracking the owner by the identity carried on a
// context.Context (see lockctx). The directory layer needs this for its
// per-inode lock: Add must be able to call Lookup internally while
// already holding it.
package reentrant

import "sync"

// Lock is a re-entrant mutex keyed by an explicit owner identity rather
// than goroutine identity.
type Lock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	held  bool
	owner uint64
	depth int
}

// New returns a ready-to-use lock.
func New() *Lock {
	l := &Lock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Lock acquires the lock for owner, blocking if it is held by a different
// owner. A zero owner never matches a previous acquisition, so it is never
// treated as re-entrant.
func (l *Lock) Lock(owner uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if owner != 0 && l.held && l.owner == owner {
		l.depth++
		return
	}

	for l.held {
		l.cond.Wait()
	}
	l.held = true
	l.owner = owner
	l.depth = 1
}

// Unlock releases one level of acquisition. The lock is only actually
// released, waking other waiters, once depth returns to zero.
func (l *Lock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.depth--
	if l.depth > 0 {
		return
	}
	l.held = false
	l.owner = 0
	l.cond.Broadcast()
}
