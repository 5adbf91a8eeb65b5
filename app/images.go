package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/nostrmail/nostrmail/pkg/store"
)

// Avatar batch bounds. Too small starves the pipeline, too large hits
// rate limits on the common image hosts.
const (
	DefaultAvatarBatch = 8
	minAvatarBatch     = 3
	maxAvatarBatch     = 15

	avatarPrefix    = "avatar/"
	maxAvatarBytes  = 4 << 20
	avatarFetchWait = 15 * time.Second
)

// PlaceholderAvatar is what renderers show for contacts with no loaded
// image. It never enters the model or the store: a failed fetch leaves
// PictureDataURL empty so the next pass retries.
const PlaceholderAvatar = "data:image/svg+xml;base64," +
	"PHN2ZyB4bWxucz0iaHR0cDovL3d3dy53My5vcmcvMjAwMC9zdmciIHdpZHRoPSI2NCIg" +
	"aGVpZ2h0PSI2NCI+PGNpcmNsZSBjeD0iMzIiIGN5PSIzMiIgcj0iMzIiIGZpbGw9IiNj" +
	"Y2MiLz48L3N2Zz4="

// ImageCache downloads contact avatars, encodes them as data URLs and
// persists them keyed by pubkey so restarts never refetch.
type ImageCache struct {
	store     *store.Store
	client    *http.Client
	BatchSize int
}

// NewImageCache returns a cache with the default batch size.
func NewImageCache(st *store.Store) *ImageCache {
	return &ImageCache{
		store:     st,
		client:    &http.Client{Timeout: avatarFetchWait},
		BatchSize: DefaultAvatarBatch,
	}
}

func (ic *ImageCache) batch() int {
	b := ic.BatchSize
	if b < minAvatarBatch {
		b = minAvatarBatch
	}
	if b > maxAvatarBatch {
		b = maxAvatarBatch
	}
	return b
}

// Cached returns the stored data URL for pubkey, or "".
func (ic *ImageCache) Cached(pubkey string) string {
	entry, err := store.GetEntry[string](ic.store, avatarPrefix+pubkey)
	if err != nil {
		return ""
	}
	return entry.Value
}

// LoadAvatars fills PictureDataURL for every contact that has a picture
// URL but no loaded image, in concurrent fixed-size batches. A failed
// download leaves the field empty, so it neither disturbs its siblings
// nor blocks a retry on the next pass. The provided flush runs after
// every completed batch so partial progress is visible and durable; a
// nil flush is skipped.
func (ic *ImageCache) LoadAvatars(ctx context.Context, contacts []*Contact, flush func() error) error {
	var todo []*Contact
	for _, c := range contacts {
		if c.Picture() != "" && c.PictureDataURL == "" {
			todo = append(todo, c)
		}
	}
	size := ic.batch()
	for start := 0; start < len(todo); start += size {
		end := start + size
		if end > len(todo) {
			end = len(todo)
		}
		var wg sync.WaitGroup
		for _, c := range todo[start:end] {
			wg.Add(1)
			go func(c *Contact) {
				defer wg.Done()
				ic.loadOne(ctx, c)
			}(c)
		}
		wg.Wait()
		if flush != nil {
			if err := flush(); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// loadOne fills PictureDataURL and nothing else: profile fields have
// their own loaded flag and an avatar failure must not invalidate them.
func (ic *ImageCache) loadOne(ctx context.Context, c *Contact) {
	if cached := ic.Cached(c.Pubkey); cached != "" {
		c.PictureDataURL = cached
		return
	}
	dataURL, err := ic.Fetch(ctx, c.Picture())
	if err != nil {
		log.D.F("avatar for %s: %v", c.Pubkey, err)
		return
	}
	c.PictureDataURL = dataURL
	if err = store.PutEntry(ic.store, avatarPrefix+c.Pubkey, dataURL); err != nil {
		log.Fail(err)
	}
}

// Fetch downloads one image and encodes it as a data URL. The MIME type
// comes from the response header, falling back to the URL extension.
func (ic *ImageCache) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := ic.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { log.Fail(resp.Body.Close()) }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxAvatarBytes {
		return "", errors.New("image too large")
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = guessMime(rawURL)
	}
	return "data:" + mimeType + ";base64," +
		base64.StdEncoding.EncodeToString(body), nil
}

func guessMime(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		if t := mime.TypeByExtension(path.Ext(u.Path)); t != "" {
			return t
		}
	}
	return "image/png"
}
