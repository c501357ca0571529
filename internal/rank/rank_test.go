package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name         string
		entries      []Entry
		country      string
		minThreshold float64
		expected     map[string]int
	}{
		{
			name: "ties break by input order",
			entries: []Entry{
				{ID: "A", Value: 100, OK: true},
				{ID: "B", Value: 100, OK: true},
				{ID: "C", Value: 50, OK: true},
			},
			expected: map[string]int{"A": 1, "B": 2, "C": 3},
		},
		{
			name: "threshold filters without gaps",
			entries: []Entry{
				{ID: "A", Value: 9000, OK: true},
				{ID: "B", Value: 2000, OK: true},
				{ID: "C", Value: 5000, OK: true},
			},
			minThreshold: 3000,
			expected:     map[string]int{"A": 1, "C": 2},
		},
		{
			name: "country scope is case insensitive",
			entries: []Entry{
				{ID: "A", Country: "JP", Value: 100, OK: true},
				{ID: "B", Country: "DE", Value: 200, OK: true},
				{ID: "C", Country: "jp", Value: 50, OK: true},
			},
			country:  "JP",
			expected: map[string]int{"A": 1, "C": 2},
		},
		{
			name: "missing metric means unranked",
			entries: []Entry{
				{ID: "A", Value: 100, OK: true},
				{ID: "B", Value: 999, OK: false},
			},
			expected: map[string]int{"A": 1},
		},
		{
			name: "duplicate id keeps first entry",
			entries: []Entry{
				{ID: "A", Value: 100, OK: true},
				{ID: "A", Value: 200, OK: true},
				{ID: "B", Value: 150, OK: true},
			},
			expected: map[string]int{"B": 1, "A": 2},
		},
		{
			name:     "empty pool",
			entries:  nil,
			expected: map[string]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.entries, tt.country, tt.minThreshold)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestComputeDeterminism(t *testing.T) {
	entries := []Entry{
		{ID: "A", Value: 100, OK: true},
		{ID: "B", Value: 100, OK: true},
		{ID: "C", Value: 100, OK: true},
	}
	first := Compute(entries, "", 0)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Compute(entries, "", 0))
	}
}
