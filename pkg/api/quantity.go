package api

import (
	"math"
	"strconv"
	"strings"
)

// Kubernetes-style quantity parsing, restricted to the grammar the
// controller emits: a decimal integer with an optional binary (Ki..Ei) or
// decimal (k..E) suffix for memory, and millicores or fractional cores for
// CPU. Anything else parses as absent, which disables the corresponding
// limit rather than failing the request.

type memorySuffix struct {
	suffix string
	factor uint64
}

// Two-character suffixes first so "Gi" is not consumed as "G".
var memorySuffixes = []memorySuffix{
	{"Ei", 1 << 60},
	{"Pi", 1 << 50},
	{"Ti", 1 << 40},
	{"Gi", 1 << 30},
	{"Mi", 1 << 20},
	{"Ki", 1 << 10},
	{"E", 1_000_000_000_000_000_000},
	{"P", 1_000_000_000_000_000},
	{"T", 1_000_000_000_000},
	{"G", 1_000_000_000},
	{"M", 1_000_000},
	{"k", 1_000},
}

// ParseMemoryQuantity converts a memory quantity string to bytes.
// ok is false when the string does not parse.
func ParseMemoryQuantity(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, ms := range memorySuffixes {
		num, found := strings.CutSuffix(s, ms.suffix)
		if !found {
			continue
		}
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			return 0, false
		}
		if n > math.MaxUint64/ms.factor {
			return 0, false
		}
		return n * ms.factor, true
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseCPUQuantity converts a cpu quantity string to millicores: "100m" is
// 100 millicores, "0.5" is 500, "2" is 2000 (fractions truncate).
// ok is false when the string does not parse.
func ParseCPUQuantity(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if num, found := strings.CutSuffix(s, "m"); found {
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	cores, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(cores) || math.IsInf(cores, 0) || cores < 0 {
		return 0, false
	}
	return uint64(cores * 1000), true
}
