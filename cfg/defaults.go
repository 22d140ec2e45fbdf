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

// DefaultConfig returns the configuration used when the caller hasn't
// overridden a given field, mirroring the recommended values called out in
// the component design: 16-way inline fan-out, 100-mutation rebalance
// cadence, 4 KiB compression blocks with a 512 B threshold.
func DefaultConfig() Config {
	return Config{
		Persistence: PersistenceConfig{
			RegionPath:    "razorfs.arena",
			CapacityBytes: 1 << 30, // 1 GiB
		},
		WAL: WALConfig{
			Path:           "razorfs.wal",
			SizeLimitBytes: 64 << 20, // 64 MiB
		},
		Tree: TreeConfig{
			InlineFanout:      16,
			RebalanceInterval: 100,
			MaxNameBytes:      255,
		},
		Compression: CompressionConfig{
			BlockSizeBytes: 4096,
			ThresholdBytes: 512,
		},
		Xattr: XattrConfig{
			MaxPerInode: 64,
			MaxBytes:    16 << 10, // 16 KiB
		},
		Logging: LoggingConfig{
			Format:   "text",
			Severity: "info",
		},
	}
}
