package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

const copyBufferSize = 32 * 1024

/*
Digest streams r through sha256 and returns the lowercase hex sum.
Manifests are published with the same algorithm, changing it would invalidate all of them.
*/
func Digest(r io.Reader) (string, error) {
	hasher := sha256.New()
	buf := make([]byte, copyBufferSize)

	if _, err := io.CopyBuffer(hasher, r, buf); err != nil {
		return "", fmt.Errorf("cannot read content: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func DigestFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return Digest(f)
}

func DigestString(str string) string {
	sum := sha256.Sum256([]byte(str))

	return hex.EncodeToString(sum[:])
}
