// Package fileid derives deterministic chunk IDs for seed records that do not carry one.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

const prefix = "seed:"

// ChunkID returns a stable ID for the record at line of the file at absolutePath.
// Re-seeding the same file therefore replaces rather than duplicates its chunks.
func ChunkID(absolutePath string, line int) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized + "#" + strconv.Itoa(line)))
	return prefix + hex.EncodeToString(hash[:16])
}
