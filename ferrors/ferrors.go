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

// Package ferrors holds the sentinel errors shared across sectorfs's
// internal layers, so that e.g. freemap and inode can both return the same
// ErrNoFreeSector value and a caller three layers up can still test for it
// with errors.Is.
package ferrors

import "errors"

var (
	ErrNoInodeAvailable = errors.New("sectorfs: inode table full")
	ErrNoFreeSector     = errors.New("sectorfs: free map exhausted")
	ErrFileTooLarge     = errors.New("sectorfs: offset beyond maximum file size")
	ErrNotFound         = errors.New("sectorfs: path component not found")
	ErrNotADirectory    = errors.New("sectorfs: path component is not a directory")
	ErrNameInUse        = errors.New("sectorfs: name already in use")
	ErrDirNotEmpty      = errors.New("sectorfs: directory not empty")
	ErrStale            = errors.New("sectorfs: operation on removed directory")
	ErrDenyWrite        = errors.New("sectorfs: file is deny-write")
	ErrInvalidName      = errors.New("sectorfs: invalid path component")
)
