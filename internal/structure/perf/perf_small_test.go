//go:build perf

package perf

import "testing"

var smallConfig = perfConfig{
	Folders:    100,
	PerFolder:  10,
	Duplicates: 200,
	Moves:      1000,
}

func BenchmarkAddSmall(b *testing.B) {
	benchmarkAdd(b, smallConfig)
}

func BenchmarkDuplicateNamesSmall(b *testing.B) {
	benchmarkDuplicateNames(b, smallConfig)
}

func BenchmarkMoveSmall(b *testing.B) {
	benchmarkMove(b, smallConfig)
}
