package utils

import "hash/fnv"

func HashStringToUint64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Bucket maps s onto [0, n). n must be positive.
func Bucket(s string, n int) int {
	return int(HashStringToUint64(s) % uint64(n))
}
