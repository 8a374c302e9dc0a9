package media

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"
)

// ImageCache decodes still images once per path. Paths are local files or
// http(s) URLs. Concurrent loads of the same path share one decode.
type ImageCache struct {
	client *http.Client

	mu     sync.RWMutex
	images map[string]image.Image
	group  singleflight.Group
	loads  atomic.Int64
}

// NewImageCache returns an empty cache. A nil client uses http.DefaultClient.
func NewImageCache(client *http.Client) *ImageCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &ImageCache{client: client, images: make(map[string]image.Image)}
}

// Load returns the decoded image at path. Failed loads are not cached.
func (c *ImageCache) Load(ctx context.Context, path string) (image.Image, error) {
	c.mu.RLock()
	img, ok := c.images[path]
	c.mu.RUnlock()
	if ok {
		return img, nil
	}

	ch := c.group.DoChan(path, func() (any, error) {
		// The shared load must not die with whichever caller started it.
		img, err := c.decode(context.WithoutCancel(ctx), path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.images[path] = img
		c.mu.Unlock()
		return img, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	}
}

// Loads returns how many decodes the cache has performed.
func (c *ImageCache) Loads() int64 { return c.loads.Load() }

func (c *ImageCache) decode(ctx context.Context, path string) (image.Image, error) {
	c.loads.Add(1)

	r, err := c.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func (c *ImageCache) open(ctx context.Context, path string) (io.ReadCloser, error) {
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open image: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch image %s: status %s", path, resp.Status)
	}
	return resp.Body, nil
}
