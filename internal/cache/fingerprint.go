package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"tonegate/internal/constants"
)

// Fingerprint derives the cache key for a transformation result from the
// transformation type, intensity, and the full message text. The hash is
// length-prefixed per field so distinct (type, text) pairs can never collide
// by concatenation.
func Fingerprint(transformationType string, intensity int, text string) string {
	h := sha256.New()

	writeField(h, []byte(transformationType))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(intensity))
	writeField(h, buf[:])

	writeField(h, []byte(text))

	return constants.CacheKeyPrefixTransform + hex.EncodeToString(h.Sum(nil))
}

func writeField(h interface{ Write([]byte) (int, error) }, field []byte) {
	var sz [8]byte
	binary.BigEndian.PutUint64(sz[:], uint64(len(field)))
	h.Write(sz[:])
	h.Write(field)
}
