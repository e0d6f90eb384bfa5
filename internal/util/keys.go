package util

import "github.com/cespare/xxhash/v2"

// Shard maps a session id onto one of n buckets. n must be > 0.
func Shard(id string, n int) int {
	return int(xxhash.Sum64String(id) % uint64(n))
}
