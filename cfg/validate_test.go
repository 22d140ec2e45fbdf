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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty region path", func(c *Config) { c.Persistence.RegionPath = "" }},
		{"zero capacity", func(c *Config) { c.Persistence.CapacityBytes = 0 }},
		{"empty wal path", func(c *Config) { c.WAL.Path = "" }},
		{"zero wal limit", func(c *Config) { c.WAL.SizeLimitBytes = 0 }},
		{"zero fanout", func(c *Config) { c.Tree.InlineFanout = 0 }},
		{"negative rebalance interval", func(c *Config) { c.Tree.RebalanceInterval = -1 }},
		{"zero max name bytes", func(c *Config) { c.Tree.MaxNameBytes = 0 }},
		{"tiny block size", func(c *Config) { c.Compression.BlockSizeBytes = 8 }},
		{"threshold exceeds block size", func(c *Config) { c.Compression.ThresholdBytes = c.Compression.BlockSizeBytes + 1 }},
		{"negative xattr count", func(c *Config) { c.Xattr.MaxPerInode = -1 }},
		{"negative xattr bytes", func(c *Config) { c.Xattr.MaxBytes = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
