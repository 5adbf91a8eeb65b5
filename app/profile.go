package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrmail/nostrmail/pkg/store"
)

const profilePrefix = "profile/"

// profileMaxAge bounds how long a cached profile is served without a
// refresh attempt.
const profileMaxAge = time.Hour

// FetchProfile returns the kind 0 metadata for pubkey, cache-first. A
// fresh cached copy is served without touching the network; otherwise
// the relays are queried and the newest event wins, falling back to the
// stale copy when the network has nothing.
func (a *App) FetchProfile(ctx context.Context, pubkey string) (*Fields, error) {
	key := profilePrefix + pubkey
	if entry, err := store.GetEntry[*Fields](a.Store, key); err == nil {
		if !entry.Stale(profileMaxAge) {
			return entry.Value, nil
		}
		fresh, ferr := a.fetchProfileNetwork(ctx, pubkey)
		if ferr != nil || fresh == nil {
			return entry.Value, nil
		}
		return fresh, nil
	}
	fresh, err := a.fetchProfileNetwork(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, fmt.Errorf("no profile found for %s", pubkey)
	}
	return fresh, nil
}

func (a *App) fetchProfileNetwork(ctx context.Context, pubkey string) (*Fields, error) {
	ev, err := a.Relay.FetchLatest(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindProfileMetadata},
		Authors: []string{pubkey},
	})
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	f := NewFields()
	if err = json.Unmarshal([]byte(ev.Content), f); err != nil {
		return nil, fmt.Errorf("unparseable profile for %s: %w", pubkey, err)
	}
	if err = store.PutEntry(a.Store, profilePrefix+pubkey, f); err != nil {
		log.Fail(err)
	}
	return f, nil
}

// PublishProfile signs and publishes our kind 0 metadata and updates
// the cache.
func (a *App) PublishProfile(ctx context.Context, fields *Fields) error {
	content, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	ev := nostr.Event{
		PubKey:    a.Keys.PublicKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindProfileMetadata,
		Tags:      nostr.Tags{},
		Content:   string(content),
	}
	if err = ev.Sign(a.Keys.PrivateKey); err != nil {
		return err
	}
	if _, err = a.Relay.Publish(ctx, ev); err != nil {
		return err
	}
	return store.PutEntry(a.Store, profilePrefix+a.Keys.PublicKey, fields)
}

// ValidateNip05 checks a user@domain handle against the domain's
// well-known nostr.json and reports whether it maps back to pubkey.
func ValidateNip05(ctx context.Context, pubkey, handle string) (bool, error) {
	name, domain, ok := strings.Cut(handle, "@")
	if !ok || name == "" || domain == "" {
		return false, fmt.Errorf("malformed nip05 handle %q", handle)
	}
	url := fmt.Sprintf("https://%s/.well-known/nostr.json?name=%s", domain, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { log.Fail(resp.Body.Close()) }()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("nip05 lookup %s: status %d", domain, resp.StatusCode)
	}
	var doc struct {
		Names map[string]string `json:"names"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return false, err
	}
	return doc.Names[name] == pubkey, nil
}
