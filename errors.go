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

package sectorfs

import "github.com/jacobsa/sectorfs/ferrors"

// Errors corresponding to the recoverable failure conditions. Each is
// surfaced by return value, never by panic or unwinding
// (the sole exception is a device error, which is fatal by design and
// therefore not in this list). These are aliases of the sentinels defined
// in ferrors, which is where every internal layer actually returns them
// from, so that errors.Is works across package boundaries.
var (
	ErrNoInodeAvailable = ferrors.ErrNoInodeAvailable
	ErrNoFreeSector     = ferrors.ErrNoFreeSector
	ErrFileTooLarge     = ferrors.ErrFileTooLarge
	ErrNotFound         = ferrors.ErrNotFound
	ErrNotADirectory    = ferrors.ErrNotADirectory
	ErrNameInUse        = ferrors.ErrNameInUse
	ErrDirNotEmpty      = ferrors.ErrDirNotEmpty
	ErrStale            = ferrors.ErrStale
	ErrDenyWrite        = ferrors.ErrDenyWrite
	ErrInvalidName      = ferrors.ErrInvalidName
)
