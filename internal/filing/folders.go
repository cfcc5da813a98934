package filing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FolderCache resolves each (ticker, year, quarter) folder at most once per
// process. Concurrent lookups of the same key share one resolver call;
// failures are not cached.
type FolderCache struct {
	resolver Folders
	group    singleflight.Group

	mu  sync.RWMutex
	ids map[string]string
}

func NewFolderCache(r Folders) *FolderCache {
	return &FolderCache{resolver: r, ids: make(map[string]string)}
}

func (c *FolderCache) Resolve(ctx context.Context, ticker string, year, quarter int) (string, error) {
	key := folderKey(ticker, year, quarter)
	if id, ok := c.lookup(key); ok {
		return id, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if id, ok := c.lookup(key); ok {
			return id, nil
		}
		id, err := c.resolver.Resolve(ctx, ticker, year, quarter)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.ids[key] = id
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolving folder %s: %w", key, err)
	}
	return v.(string), nil
}

func (c *FolderCache) lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[key]
	return id, ok
}

// DirFolders creates <Root>/<TICKER>/<YEAR>/Q<N> and returns the path
// relative to Root as the folder id.
type DirFolders struct {
	Root string
}

func (d DirFolders) Resolve(ctx context.Context, ticker string, year, quarter int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel := folderKey(ticker, year, quarter)
	if err := os.MkdirAll(filepath.Join(d.Root, filepath.FromSlash(rel)), 0o755); err != nil {
		return "", fmt.Errorf("creating folder: %w", err)
	}
	return rel, nil
}

func folderKey(ticker string, year, quarter int) string {
	return fmt.Sprintf("%s/%d/Q%d", strings.ToUpper(ticker), year, quarter)
}
