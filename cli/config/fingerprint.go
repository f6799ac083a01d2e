package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/pithecene-io/dispipe/iox"
)

// Fingerprint returns "blake3:<hex>" for the raw (unexpanded) config file,
// so operators can tell which revision a running relay loaded.
func Fingerprint(path string) (sum string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	defer iox.CloseInto(f, &err)

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}
