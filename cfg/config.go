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

// Package cfg carries the engine's mount-time configuration. It is a plain
// value type: binding it to flags or a config file is the bridge's concern,
// not the engine's.
package cfg

// Config is passed to engine.Mount. Every field has a sane default via
// DefaultConfig; Validate rejects values the engine cannot operate under.
type Config struct {
	Persistence PersistenceConfig `yaml:"persistence"`
	WAL         WALConfig         `yaml:"wal"`
	Tree        TreeConfig        `yaml:"tree"`
	Compression CompressionConfig `yaml:"compression"`
	Xattr       XattrConfig       `yaml:"xattr"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// PersistenceConfig governs the shared-memory arena backing (C4).
type PersistenceConfig struct {
	// RegionPath names the backing file this engine mmaps for the
	// node/string arenas. A named POSIX shared-memory region and a
	// regular file are both just a path to mmap; this engine uses a
	// regular file so the region survives under the same semantics a
	// persistence arena needs: re-mappable across process restarts.
	RegionPath string `yaml:"region-path"`

	// CapacityBytes bounds the combined size of the string arena and node
	// arena payload within the region.
	CapacityBytes int64 `yaml:"capacity-bytes"`
}

// WALConfig governs the write-ahead log (C9).
type WALConfig struct {
	Path string `yaml:"path"`

	// SizeLimitBytes must be positive, which Validate enforces. The engine
	// does not compare the WAL's size against it, so exceeding it does not
	// trigger a checkpoint; checkpoints run at the end of mount-time
	// recovery and at Unmount.
	SizeLimitBytes int64 `yaml:"size-limit-bytes"`
}

// TreeConfig governs the N-ary tree engine (C6).
type TreeConfig struct {
	// InlineFanout must be at least 1, which Validate enforces; nothing else
	// reads it. Every directory keeps all its children in one list, in
	// memory and in the persisted region, so exceeding this value is never
	// an error and changes no storage layout.
	InlineFanout int `yaml:"inline-fanout"`

	// RebalanceInterval is the number of structural mutations between
	// automatic breadth-first re-layouts. Zero disables automatic
	// rebalancing (an explicit RebalanceNow is still available).
	RebalanceInterval int `yaml:"rebalance-interval"`

	// MaxNameBytes bounds a single path component's interned length.
	MaxNameBytes int `yaml:"max-name-bytes"`
}

// CompressionConfig governs the compression layer (C7).
type CompressionConfig struct {
	// BlockSizeBytes is the fixed block size file payloads are chunked into.
	BlockSizeBytes int `yaml:"block-size-bytes"`

	// ThresholdBytes is the minimum original block length eligible for
	// compression; shorter blocks are always stored raw.
	ThresholdBytes int `yaml:"threshold-bytes"`
}

// XattrConfig governs per-inode extended-attribute limits (C8).
type XattrConfig struct {
	MaxPerInode int `yaml:"max-per-inode"`
	MaxBytes    int `yaml:"max-bytes"`
}

// LoggingConfig governs the engine-wide logger.
type LoggingConfig struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// Severity is one of trace, debug, info, warn, error, off.
	Severity string `yaml:"severity"`
}
