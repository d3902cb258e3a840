package resources

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// fileDigest returns the BLAKE3 hex digest of the file at path.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
