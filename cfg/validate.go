// Copyright 2024 Google Inc. All Rights Reserved.
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

package cfg

import "fmt"

// Validate rejects configuration values the engine cannot operate under. It
// does not mutate c; callers that want defaults filled in should start from
// DefaultConfig and override only the fields they care about.
func (c Config) Validate() error {
	if c.Persistence.RegionPath == "" {
		return fmt.Errorf("persistence.region-path must not be empty")
	}
	if c.Persistence.CapacityBytes <= 0 {
		return fmt.Errorf("persistence.capacity-bytes must be positive")
	}

	if c.WAL.Path == "" {
		return fmt.Errorf("wal.path must not be empty")
	}
	if c.WAL.SizeLimitBytes <= 0 {
		return fmt.Errorf("wal.size-limit-bytes must be positive")
	}

	if c.Tree.InlineFanout < 1 {
		return fmt.Errorf("tree.inline-fanout must be at least 1")
	}
	if c.Tree.RebalanceInterval < 0 {
		return fmt.Errorf("tree.rebalance-interval must not be negative")
	}
	if c.Tree.MaxNameBytes < 1 || c.Tree.MaxNameBytes > 65535 {
		return fmt.Errorf("tree.max-name-bytes must be in [1, 65535]")
	}

	if c.Compression.BlockSizeBytes < 64 {
		return fmt.Errorf("compression.block-size-bytes must be at least 64")
	}
	if c.Compression.ThresholdBytes < 0 || c.Compression.ThresholdBytes > c.Compression.BlockSizeBytes {
		return fmt.Errorf("compression.threshold-bytes must be between 0 and block-size-bytes")
	}

	if c.Xattr.MaxPerInode < 0 {
		return fmt.Errorf("xattr.max-per-inode must not be negative")
	}
	if c.Xattr.MaxBytes < 0 {
		return fmt.Errorf("xattr.max-bytes must not be negative")
	}

	return nil
}
