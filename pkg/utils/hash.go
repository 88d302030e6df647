package utils

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
)

func HashBytes(input []byte) string {
	hash := md5.Sum(input)
	return fmt.Sprintf("%x", hash)
}

// HashJSON hashes the JSON encoding of v. Map keys are encoded in sorted
// order, so equal values hash equally.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value for hashing: %w", err)
	}
	return HashBytes(data), nil
}
