package app

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/nostrmail/nostrmail/pkg/keys"
	"github.com/nostrmail/nostrmail/pkg/mail"
	"github.com/nostrmail/nostrmail/pkg/store"
)

// fakeRelay is an in-memory relay set: Publish stores, Query filters.
// publishErr simulates a dead network, held simulates events that were
// accepted but are not yet readable (publish ack without observation).
type fakeRelay struct {
	mx         sync.Mutex
	events     []*nostr.Event
	publishErr error
	held       map[string]bool
}

func (r *fakeRelay) Publish(_ context.Context, ev nostr.Event) (int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.publishErr != nil {
		return 0, r.publishErr
	}
	cp := ev
	r.events = append(r.events, &cp)
	return 1, nil
}

// hold makes future queries skip the event until release.
func (r *fakeRelay) hold(id string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.held == nil {
		r.held = map[string]bool{}
	}
	r.held[id] = true
}

func (r *fakeRelay) release(id string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	delete(r.held, id)
}

// tamper rewrites the stored event's content without re-signing it,
// simulating a relay serving an event whose signature no longer covers
// its payload.
func (r *fakeRelay) tamper(t *testing.T, id, content string) {
	t.Helper()
	r.mx.Lock()
	defer r.mx.Unlock()
	for _, ev := range r.events {
		if ev.ID == id {
			ev.Content = content
			return
		}
	}
	t.Fatalf("no event %s to tamper with", id)
}

func (r *fakeRelay) add(t *testing.T, sk string, kind int, tags nostr.Tags, content string, at nostr.Timestamp) *nostr.Event {
	t.Helper()
	pub, err := keys.PublicKey(sk)
	require.NoError(t, err)
	ev := &nostr.Event{
		PubKey:    pub,
		CreatedAt: at,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	require.NoError(t, ev.Sign(sk))
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, ev)
	return ev
}

func (r *fakeRelay) Query(_ context.Context, f nostr.Filter) ([]*nostr.Event, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	var out []*nostr.Event
	for _, ev := range r.events {
		if r.held[ev.ID] {
			continue
		}
		if matches(f, ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *fakeRelay) FetchLatest(ctx context.Context, f nostr.Filter) (*nostr.Event, error) {
	evs, err := r.Query(ctx, f)
	if err != nil || len(evs) == 0 {
		return nil, err
	}
	return evs[len(evs)-1], nil
}

func (r *fakeRelay) HasEvent(ctx context.Context, id string) (bool, error) {
	evs, err := r.Query(ctx, nostr.Filter{IDs: []string{id}})
	return len(evs) > 0, err
}

func matches(f nostr.Filter, ev *nostr.Event) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, ev.PubKey) {
		return false
	}
	for name, wanted := range f.Tags {
		ok := false
		for _, tag := range ev.Tags.GetAll([]string{name}) {
			if len(tag) >= 2 && contains(wanted, tag[1]) {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// newTestApp wires an App over a fake relay, an in-memory store and an
// in-memory mailbox, returning the private key used for the identity.
func newTestApp(t *testing.T) (*App, *fakeRelay, *mail.Mailbox, string) {
	t.Helper()
	sk := keys.Generate()
	ks, err := NewKeyState(sk)
	require.NoError(t, err)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	rl := &fakeRelay{}
	box := &mail.Mailbox{From: "me@example.com"}
	return New(ks, rl, st, box), rl, box, sk
}
