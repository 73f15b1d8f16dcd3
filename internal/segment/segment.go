// Package segment partitions record keys into parallel scan segments for
// backends without a native segmented scan.
package segment

import (
	"hash/fnv"
)

// Of returns the segment a key belongs to out of total segments.
// With total<=1, every key is in segment 0.
func Of(key string, total int) int {
	if total <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(total))
}

// Contains reports whether key belongs to segment seg of total.
func Contains(key string, seg, total int) bool {
	return Of(key, total) == seg
}

// Valid reports whether seg/total describe a usable segment.
func Valid(seg, total int) bool {
	return total >= 1 && seg >= 0 && seg < total
}
