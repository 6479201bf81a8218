// Package dist builds and publishes distribution artifacts: source archives,
// the compressed docs bundle and the uploads to a package index or a GitHub
// release.
package dist

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Artifact describes a produced distribution file.
type Artifact struct {
	// Name is the file name, Path the absolute location on disk.
	Name   string
	Path   string
	Size   int64
	Sha256 string
}

// WriteChecksum writes the artifact's digest to <path>.sha256 in the common
// "<digest>  <filename>" format.
func (a *Artifact) WriteChecksum() error {
	content := fmt.Sprintf("%s  %s\n", a.Sha256, a.Name)
	err := os.WriteFile(a.Path+".sha256", []byte(content), 0o644)
	if err != nil {
		return eris.Wrapf(err, "failed to write checksum for %s", a.Name)
	}

	return nil
}

func fileDigest(path string) (string, int64, error) {
	handle, err := os.Open(path)
	if err != nil {
		return "", 0, eris.Wrapf(err, "failed to open %s", path)
	}
	defer handle.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, handle)
	if err != nil {
		return "", 0, eris.Wrapf(err, "failed to hash %s", path)
	}

	return hex.EncodeToString(hash.Sum(nil)), size, nil
}
