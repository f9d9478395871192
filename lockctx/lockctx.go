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

// Package lockctx carries a lock-owner identity on a context.Context.
// Goroutines have no usable identity of their own, so every top-level
// filesystem operation mints an owner at its entry point and threads it
// through every call that might recursively touch the same buffer-cache
// slot or directory lock, letting re-entrant acquisitions be recognized.
package lockctx

import (
	"context"
	"sync/atomic"
)

type keyType struct{}

var key keyType

var seq uint64

// New returns a context carrying a fresh owner identity.
func New(parent context.Context) context.Context {
	id := atomic.AddUint64(&seq, 1)
	return context.WithValue(parent, key, id)
}

// Ensure returns ctx unchanged if it already carries an owner identity,
// or a child context carrying a fresh one. Entry points that may lock a
// sector and then read it back through the ordinary cache path call this
// so that a caller who neglected to mint an identity cannot deadlock on
// its own held slot.
func Ensure(ctx context.Context) context.Context {
	if Owner(ctx) != 0 {
		return ctx
	}
	return New(ctx)
}

// Owner extracts the owner identity from ctx, or 0 if none was set (which
// never matches a real owner, so callers outside of a top-level operation
// never get spurious reentrancy).
func Owner(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	id, _ := ctx.Value(key).(uint64)
	return id
}
