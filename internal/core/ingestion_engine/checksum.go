package ingestion_engine

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum is the hex SHA-256 of the raw upload bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
