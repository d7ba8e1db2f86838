package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashFile returns the hex SHA-256 digest and size of path, reporting
// progress as it reads.
func HashFile(ctx context.Context, path string, progress ProgressFunc) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	total := int64(-1)
	if info, err := file.Stat(); err == nil {
		total = info.Size()
	}
	hasher := sha256.New()
	counter := &progressWriter{ctx: ctx, total: total, report: progress}
	size, err := io.Copy(io.MultiWriter(hasher, counter), file)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
