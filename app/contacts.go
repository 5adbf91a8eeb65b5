package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrmail/nostrmail/pkg/store"
)

// ErrSyncAborted reports that the relay set had nothing usable for the
// follow list: no kind 3 event, or one with an empty p-tag set. The
// local contact set stays exactly as it was; an empty fetch must never
// wipe local state.
var ErrSyncAborted = errors.New("contact sync aborted, nothing fetched")

// Privacy says whether a contact appears on the published follow list.
type Privacy string

const (
	// PrivacyPublic marks contacts present in the fetched follow list.
	PrivacyPublic Privacy = "public"
	// PrivacyPrivate marks contacts that exist only locally. They are
	// never dropped by a sync and never published.
	PrivacyPrivate Privacy = "private"
)

// Contact is one entry of the contact set.
type Contact struct {
	Pubkey         string  `json:"pubkey"`
	Fields         *Fields `json:"fields,omitempty"`
	PictureDataURL string  `json:"picture_data_url,omitempty"`
	Privacy        Privacy `json:"privacy"`
	ProfileLoaded  bool    `json:"profile_loaded"`
}

// Picture is the contact's avatar URL from its profile.
func (c *Contact) Picture() string { return c.Fields.Picture() }

// Avatar is what a renderer shows: the loaded image, or the placeholder
// when none has been fetched. The placeholder never enters the model.
func (c *Contact) Avatar() string {
	if c.PictureDataURL == "" {
		return PlaceholderAvatar
	}
	return c.PictureDataURL
}

// Name is the best display name available: display_name, then name,
// then the truncated pubkey.
func (c *Contact) Name() string {
	if n := c.Fields.DisplayName(); n != "" {
		return n
	}
	if n := c.Fields.Name(); n != "" {
		return n
	}
	if len(c.Pubkey) > 8 {
		return c.Pubkey[:8]
	}
	return c.Pubkey
}

// profileBatchSize caps the author list per kind 0 filter. Relays limit
// filter sizes, so large contact lists go out in chunks.
const profileBatchSize = 500

const contactsKey = "contacts"

// ContactEngine reconciles the local contact set with the follow list
// published on the relays.
type ContactEngine struct {
	relay Relay
	store *store.Store
	keys  KeyState

	mx       sync.Mutex
	contacts map[string]*Contact
}

// Cached returns the stored contact set, loading it from the durable
// store on first use. The result is sorted by display name for stable
// listings.
func (e *ContactEngine) Cached() ([]*Contact, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if err := e.loadLocked(); err != nil {
		return nil, err
	}
	return e.sortedLocked(), nil
}

func (e *ContactEngine) loadLocked() error {
	if e.contacts != nil {
		return nil
	}
	e.contacts = map[string]*Contact{}
	entry, err := store.GetEntry[[]*Contact](e.store, contactsKey)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrCorrupt) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, c := range entry.Value {
		e.contacts[c.Pubkey] = c
	}
	return nil
}

func (e *ContactEngine) sortedLocked() []*Contact {
	out := make([]*Contact, 0, len(e.contacts))
	for _, c := range e.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].Name(), out[j].Name()
		if ni != nj {
			return ni < nj
		}
		return out[i].Pubkey < out[j].Pubkey
	})
	return out
}

func (e *ContactEngine) flushLocked() error {
	return store.PutEntry(e.store, contactsKey, e.sortedLocked())
}

// Add inserts or updates a contact locally. New contacts default to
// private until a sync proves they are on the follow list.
func (e *ContactEngine) Add(pubkey string, privacy Privacy) (*Contact, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if err := e.loadLocked(); err != nil {
		return nil, err
	}
	c, ok := e.contacts[pubkey]
	if !ok {
		c = &Contact{Pubkey: pubkey, Fields: NewFields(), Privacy: privacy}
		e.contacts[pubkey] = c
	} else {
		c.Privacy = privacy
	}
	return c, e.flushLocked()
}

// Sync fetches the freshest follow list event and merges it into the
// local set in place. The decision table:
//
//	no kind 3 event            -> ErrSyncAborted, local untouched
//	event with zero p tags     -> ErrSyncAborted, local untouched
//	pubkey in fetched list     -> public, inserted or updated in place
//	pubkey only local          -> private, kept
//
// After the merge, profiles are populated for contacts that lack them
// and the result is persisted.
func (e *ContactEngine) Sync(ctx context.Context) ([]*Contact, error) {
	ev, err := e.relay.FetchLatest(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindContactList},
		Authors: []string{e.keys.PublicKey},
	})
	if err != nil {
		return nil, err
	}
	var fetched []string
	if ev != nil {
		for _, tag := range ev.Tags.GetAll([]string{"p"}) {
			if len(tag) >= 2 && tag[1] != "" {
				fetched = append(fetched, tag[1])
			}
		}
	}
	if len(fetched) == 0 {
		return nil, ErrSyncAborted
	}

	e.mx.Lock()
	if err = e.loadLocked(); err != nil {
		e.mx.Unlock()
		return nil, err
	}
	onList := map[string]bool{}
	for _, pk := range fetched {
		onList[pk] = true
		if c, ok := e.contacts[pk]; ok {
			// in-place update keeps loaded avatar and profile state
			c.Privacy = PrivacyPublic
		} else {
			e.contacts[pk] = &Contact{Pubkey: pk, Fields: NewFields(), Privacy: PrivacyPublic}
		}
	}
	for pk, c := range e.contacts {
		if !onList[pk] {
			c.Privacy = PrivacyPrivate
		}
	}
	if err = e.flushLocked(); err != nil {
		e.mx.Unlock()
		return nil, err
	}
	e.mx.Unlock()

	if err = e.PopulateProfiles(ctx); err != nil {
		log.Fail(err)
	}
	return e.Cached()
}

// PopulateProfiles batch-fetches kind 0 metadata for every contact that
// has none yet. The newest event per author wins; a profile that fails
// to parse is skipped without aborting the batch.
func (e *ContactEngine) PopulateProfiles(ctx context.Context) error {
	e.mx.Lock()
	var missing []string
	for pk, c := range e.contacts {
		if !c.ProfileLoaded {
			missing = append(missing, pk)
		}
	}
	e.mx.Unlock()
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)

	for start := 0; start < len(missing); start += profileBatchSize {
		end := start + profileBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		evs, err := e.relay.Query(ctx, nostr.Filter{
			Kinds:   []int{nostr.KindProfileMetadata},
			Authors: batch,
			Limit:   len(batch),
		})
		if err != nil {
			return fmt.Errorf("fetching profiles: %w", err)
		}
		// Query returns ascending by created_at, so later entries
		// overwrite earlier ones and the newest per author wins.
		latest := map[string]*nostr.Event{}
		for _, ev := range evs {
			latest[ev.PubKey] = ev
		}
		e.mx.Lock()
		for pk, ev := range latest {
			c, ok := e.contacts[pk]
			if !ok {
				continue
			}
			f := NewFields()
			if err := json.Unmarshal([]byte(ev.Content), f); err != nil {
				log.D.F("unparseable profile for %s: %v", pk, err)
				continue
			}
			c.Fields = f
			c.ProfileLoaded = true
		}
		err = e.flushLocked()
		e.mx.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// PublishFollowList publishes the public contacts as a kind 3 event.
// Relays replace older follow lists by created_at, so whoever published
// last wins.
func (e *ContactEngine) PublishFollowList(ctx context.Context) error {
	e.mx.Lock()
	if err := e.loadLocked(); err != nil {
		e.mx.Unlock()
		return err
	}
	var tags nostr.Tags
	for _, c := range e.sortedLocked() {
		if c.Privacy == PrivacyPublic {
			tags = append(tags, nostr.Tag{"p", c.Pubkey})
		}
	}
	e.mx.Unlock()

	ev := nostr.Event{
		PubKey:    e.keys.PublicKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindContactList,
		Tags:      tags,
		Content:   "",
	}
	if err := ev.Sign(e.keys.PrivateKey); err != nil {
		return err
	}
	_, err := e.relay.Publish(ctx, ev)
	return err
}
