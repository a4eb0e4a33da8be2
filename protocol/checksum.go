package protocol

import (
	"hash"
	"hash/crc32"
)

// CalculateCRC32 computes the IEEE CRC-32 of data.
// Read and verify results report this value for the transferred bytes.
func CalculateCRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// NewCRC32 returns a running IEEE CRC-32 for data that arrives block by block.
func NewCRC32() hash.Hash32 {
	return crc32.NewIEEE()
}

// IsErased reports whether every byte of data equals the erased value.
func IsErased(data []byte, erased byte) bool {
	for _, b := range data {
		if b != erased {
			return false
		}
	}
	return true
}

// FirstDifference returns the index of the first byte that differs between
// a and b, or -1 when the common prefix is equal.
func FirstDifference(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}
