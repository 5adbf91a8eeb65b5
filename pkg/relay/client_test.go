package relay

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEligibleRespectsPermsAndEnabled(t *testing.T) {
	c := New()
	c.SetRelays(map[string]*Perms{
		"wss://rw":        {Read: true, Write: true, Enabled: true},
		"wss://read-only": {Read: true, Enabled: true},
		"wss://disabled":  {Read: true, Write: true, Enabled: false},
	})

	assert.ElementsMatch(t, []string{"wss://rw", "wss://read-only"},
		c.eligible(Perms{Read: true}))
	assert.ElementsMatch(t, []string{"wss://rw"},
		c.eligible(Perms{Write: true}))

	c.SetEnabled("wss://rw", false)
	assert.Empty(t, c.eligible(Perms{Write: true}))
	c.SetEnabled("wss://rw", true)
	assert.ElementsMatch(t, []string{"wss://rw"}, c.eligible(Perms{Write: true}))
}

func TestZeroRelaysIsAHardError(t *testing.T) {
	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.Query(ctx, nostr.Filter{Kinds: []int{nostr.KindEncryptedDirectMessage}})
	assert.ErrorIs(t, err, ErrNoRelays)

	_, err = c.Publish(ctx, nostr.Event{})
	assert.ErrorIs(t, err, ErrNoRelays)

	_, err = c.HasEvent(ctx, "00")
	assert.ErrorIs(t, err, ErrNoRelays)
}

func TestRelaysReturnsACopy(t *testing.T) {
	c := New("wss://one")
	got := c.Relays()
	require.Contains(t, got, "wss://one")
	mutated := got["wss://one"]
	mutated.Enabled = false
	got["wss://one"] = mutated

	again := c.Relays()
	assert.True(t, again["wss://one"].Enabled, "mutating the copy must not affect the client")
}

func TestSignatureFlipsOnAnyMutation(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pub, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	signed := nostr.Event{
		PubKey:    pub,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", pub}},
		Content:   "ciphertext",
	}
	require.NoError(t, signed.Sign(sk))
	ok, err := signed.CheckSignature()
	require.NoError(t, err)
	require.True(t, ok, "a freshly signed event must verify")

	otherPub, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	mutations := map[string]func(*nostr.Event){
		"content":    func(ev *nostr.Event) { ev.Content = "ciphertext2" },
		"created_at": func(ev *nostr.Event) { ev.CreatedAt++ },
		"kind":       func(ev *nostr.Event) { ev.Kind = nostr.KindTextNote },
		"tags":       func(ev *nostr.Event) { ev.Tags = nostr.Tags{{"p", otherPub}} },
		"pubkey":     func(ev *nostr.Event) { ev.PubKey = otherPub },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			ev := signed
			mutate(&ev)
			ok, _ := ev.CheckSignature()
			assert.False(t, ok, "mutating %s must break verification", name)
		})
	}
}

func TestUnreachableRelayIsTolerated(t *testing.T) {
	// a connection failure must not surface as an error, only as an
	// empty result
	c := New("ws://127.0.0.1:1") // nothing listens here
	c.Timeout = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	evs, err := c.Query(ctx, nostr.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, evs)

	// Do reports that zero relays were reached, which is how a dead
	// network is told apart from a network with no matching events
	n, err := c.Do(ctx, Perms{Read: true},
		func(context.Context, *nostr.Relay) bool { return true })
	require.NoError(t, err)
	assert.Zero(t, n)
}
