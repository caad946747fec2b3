package archive

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Key is the 128-bit xxh3 digest of the exact id sequence, as 32 hex characters.
// Each id is length-prefixed so that no two distinct sequences share an encoding;
// order and duplicates therefore change the key.
func Key(ids []string) string {
	size := 0
	for _, id := range ids {
		size += 8 + len(id)
	}
	buf := make([]byte, 0, size)
	for _, id := range ids {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(id)))
		buf = append(buf, id...)
	}

	h := xxh3.Hash128(buf)
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// Filename is the store name of the bundle for key.
func Filename(key string) string {
	return key + ".zip"
}
