//go:build perf_large

package perf

import "testing"

var largeConfig = perfConfig{
	Folders:    1000,
	PerFolder:  50,
	Duplicates: 2000,
	Moves:      20000,
}

func BenchmarkAddLarge(b *testing.B) {
	benchmarkAdd(b, largeConfig)
}

func BenchmarkDuplicateNamesLarge(b *testing.B) {
	benchmarkDuplicateNames(b, largeConfig)
}

func BenchmarkMoveLarge(b *testing.B) {
	benchmarkMove(b, largeConfig)
}
