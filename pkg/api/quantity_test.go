package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMemoryQuantity(t *testing.T) {
	tests := []struct {
		in    string
		bytes uint64
		ok    bool
	}{
		{"128", 128, true},
		{"1k", 1_000, true},
		{"1M", 1_000_000, true},
		{"2G", 2_000_000_000, true},
		{"1T", 1_000_000_000_000, true},
		{"1Ki", 1024, true},
		{"16Mi", 16 << 20, true},
		{"1Gi", 1 << 30, true},
		{"1Ti", 1 << 40, true},
		{" 64Mi ", 64 << 20, true},
		{"", 0, false},
		{"Mi", 0, false},
		{"16MiB", 0, false},
		{"-1", 0, false},
		{"1.5Gi", 0, false},
		{"lots", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMemoryQuantity(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.bytes, got)
			}
		})
	}
}

func TestParseCPUQuantity(t *testing.T) {
	tests := []struct {
		in         string
		millicores uint64
		ok         bool
	}{
		{"100m", 100, true},
		{"1500m", 1500, true},
		{"1", 1000, true},
		{"2", 2000, true},
		{"0.5", 500, true},
		{"0.1", 100, true},
		{"1.5", 1500, true},
		{"0.0001", 0, true},
		{"", 0, false},
		{"m", 0, false},
		{"-1", 0, false},
		{"abc", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCPUQuantity(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.millicores, got)
			}
		})
	}
}
