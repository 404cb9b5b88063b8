package transfer

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// verifyBlockSize keeps syscall overhead low without holding the file in
// memory.
const verifyBlockSize = 8 * 1024 * 1024

// FileMD5 streams the file through MD5 and returns the hex digest. The
// archive publishes MD5 digests for its objects, which fixes the
// algorithm.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for verification: %w", err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, verifyBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify compares the local file digest against the expected one,
// case-insensitively. It returns the computed digest alongside the
// verdict so callers can log both sides of a mismatch.
func Verify(path, expected string) (string, bool, error) {
	actual, err := FileMD5(path)
	if err != nil {
		return "", false, err
	}
	return actual, strings.EqualFold(actual, expected), nil
}
