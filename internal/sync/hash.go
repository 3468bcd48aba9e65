package sync

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ContentHash is a fast non-cryptographic digest of full document text.
// Host and surfaces compute it identically, so a surface can recognize its
// own just-sent content coming back without relying on message ordering.
type ContentHash uint64

// HashText computes the content hash of the given text.
func HashText(text string) ContentHash {
	return ContentHash(xxhash.Sum64String(text))
}

// String returns the hash in hexadecimal form.
func (h ContentHash) String() string {
	return strconv.FormatUint(uint64(h), 16)
}
