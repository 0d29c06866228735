// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBudget(t *testing.T) {
	b := NewBudget(2048)

	assert.InDelta(t, 1433.6, b.SlidingLimit(), 1e-9)
	assert.Equal(t, 1024, b.SummaryLimit())
	assert.Equal(t, 512, b.ReplyCap())
	assert.Equal(t, 1331, b.ChunkBudget())
	assert.Equal(t, 8192, b.CharLimit())
	assert.Equal(t, 1638, b.InputLimit())
	assert.Equal(t, 819, b.PersonalityLimit())
	assert.Equal(t, 2048, b.SummaryCharLimit())
	assert.Equal(t, 20, b.IdealFileSizeKB())
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"sliding_window", SlidingWindow, false},
		{" Periodic_Summary ", PeriodicSummary, false},
		{"fifo", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseStrategy(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompressionRequest(t *testing.T) {
	assert.Equal(t,
		"Summarise our conversation using less than 2048 characters. Use short paragraph style.",
		CompressionRequest(NewBudget(2048)))
}
