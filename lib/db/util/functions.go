package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a more robust random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the current time, only in the worst case
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// MixUint64 scrambles an integer key with a seed (splitmix64 finalizer).
// Record ids are mostly sequential, so they are mixed before being used for
// shard selection or bucket hashing.
func MixUint64(key, seed uint64) uint64 {
	z := key ^ seed
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// --------------------------------------------------------------------------
// Key Encoding
// --------------------------------------------------------------------------

// AppendKey appends the big endian encoding of key to dst.
// Big endian keeps the byte order of encoded keys equal to their numeric order.
func AppendKey(dst []byte, key uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, key)
}

// AppendTag appends the big endian encoding of tag to dst.
func AppendTag(dst []byte, tag uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, tag)
}
