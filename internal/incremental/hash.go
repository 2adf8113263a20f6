package incremental

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HashBytes returns the hex BLAKE3 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex BLAKE3 digest of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashTree hashes the given root-relative files concurrently. Files that
// vanish between listing and hashing are left out, and so are unreadable
// files, with a warning. A file left out of the hashes counts as changed
// against any record that tracked it.
func hashTree(ctx context.Context, root string, files []string, workers int, logger *zap.Logger) (map[string]string, error) {
	hashes := make(map[string]string, len(files))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			sum, err := HashFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				logger.Warn("Skipping unreadable file", zap.String("file", rel), zap.Error(err))
				return nil
			}
			mu.Lock()
			hashes[rel] = sum
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hashes, nil
}
