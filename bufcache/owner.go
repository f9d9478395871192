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

	"github.com/jacobsa/sectorfs/lockctx"
)

// NewOwnerContext returns a context carrying a fresh lock-owner identity.
// Every top-level Filesystem operation (create, open, a single read or
// write call, a sector fix-up) should call this once at its entry point and
// thread the resulting context down through every call that may in turn
// call Cache.Lock/Unlock on the same sector, so that nested acquisitions of
// the same slot by the same logical operation are recognized as re-entrant
// rather than deadlocking.
func NewOwnerContext(parent context.Context) context.Context {
	return lockctx.New(parent)
}

// EnsureOwnerContext returns ctx unchanged if it already carries an owner
// identity, or a child context carrying a fresh one.
func EnsureOwnerContext(ctx context.Context) context.Context {
	return lockctx.Ensure(ctx)
}

func ownerFromContext(ctx context.Context) uint64 {
	return lockctx.Owner(ctx)
}
