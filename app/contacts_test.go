package app

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrmail/nostrmail/pkg/keys"
)

func contactByPubkey(t *testing.T, cs []*Contact, pk string) *Contact {
	t.Helper()
	for _, c := range cs {
		if c.Pubkey == pk {
			return c
		}
	}
	t.Fatalf("contact %s not found", pk)
	return nil
}

func TestSyncAbortsWhenNothingFetched(t *testing.T) {
	a, rl, _, sk := newTestApp(t)
	ctx := context.Background()

	_, err := a.Contacts.Add("aaaa", PrivacyPublic)
	require.NoError(t, err)

	// no kind 3 event at all
	_, err = a.Contacts.Sync(ctx)
	assert.ErrorIs(t, err, ErrSyncAborted)

	// a follow list with zero p tags is just as useless
	rl.add(t, sk, nostr.KindContactList, nostr.Tags{}, "", nostr.Now())
	_, err = a.Contacts.Sync(ctx)
	assert.ErrorIs(t, err, ErrSyncAborted)

	cached, err := a.Contacts.Cached()
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, PrivacyPublic, cached[0].Privacy, "aborted sync must leave local state untouched")
}

func TestSyncMergeDecisionTable(t *testing.T) {
	a, rl, _, sk := newTestApp(t)
	ctx := context.Background()

	pkA := keys.Generate()
	a1, _ := keys.PublicKey(pkA)
	pkB := keys.Generate()
	b1, _ := keys.PublicKey(pkB)
	pkC := keys.Generate()
	c1, _ := keys.PublicKey(pkC)

	// local: A public, B private; fetched list: [A, C]
	_, err := a.Contacts.Add(a1, PrivacyPublic)
	require.NoError(t, err)
	_, err = a.Contacts.Add(b1, PrivacyPrivate)
	require.NoError(t, err)
	rl.add(t, sk, nostr.KindContactList,
		nostr.Tags{{"p", a1}, {"p", c1}}, "", nostr.Now())

	got, err := a.Contacts.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, PrivacyPublic, contactByPubkey(t, got, a1).Privacy)
	assert.Equal(t, PrivacyPrivate, contactByPubkey(t, got, b1).Privacy,
		"local-only contacts turn private, never dropped")
	assert.Equal(t, PrivacyPublic, contactByPubkey(t, got, c1).Privacy)
}

func TestSyncPreservesLoadedProfileState(t *testing.T) {
	a, rl, _, sk := newTestApp(t)
	ctx := context.Background()

	pkA := keys.Generate()
	a1, _ := keys.PublicKey(pkA)
	c, err := a.Contacts.Add(a1, PrivacyPublic)
	require.NoError(t, err)
	c.PictureDataURL = "data:image/png;base64,xxxx"
	c.ProfileLoaded = true

	rl.add(t, sk, nostr.KindContactList, nostr.Tags{{"p", a1}}, "", nostr.Now())
	got, err := a.Contacts.Sync(ctx)
	require.NoError(t, err)
	merged := contactByPubkey(t, got, a1)
	assert.True(t, merged.ProfileLoaded, "in-place merge must keep avatar state")
	assert.Equal(t, "data:image/png;base64,xxxx", merged.PictureDataURL)
}

func TestSyncPopulatesProfilesNewestWins(t *testing.T) {
	a, rl, _, sk := newTestApp(t)
	ctx := context.Background()

	skA := keys.Generate()
	a1, _ := keys.PublicKey(skA)
	rl.add(t, sk, nostr.KindContactList, nostr.Tags{{"p", a1}}, "", nostr.Now())
	rl.add(t, skA, nostr.KindProfileMetadata, nostr.Tags{},
		`{"name":"old"}`, nostr.Now()-100)
	rl.add(t, skA, nostr.KindProfileMetadata, nostr.Tags{},
		`{"name":"new","picture":"https://img/a.png"}`, nostr.Now())

	got, err := a.Contacts.Sync(ctx)
	require.NoError(t, err)
	c := contactByPubkey(t, got, a1)
	assert.True(t, c.ProfileLoaded)
	assert.Equal(t, "new", c.Fields.Name())
	assert.Equal(t, "https://img/a.png", c.Picture())
}

func TestPublishFollowListOnlyPublicContacts(t *testing.T) {
	a, rl, _, _ := newTestApp(t)
	ctx := context.Background()

	skA := keys.Generate()
	a1, _ := keys.PublicKey(skA)
	skB := keys.Generate()
	b1, _ := keys.PublicKey(skB)
	_, err := a.Contacts.Add(a1, PrivacyPublic)
	require.NoError(t, err)
	_, err = a.Contacts.Add(b1, PrivacyPrivate)
	require.NoError(t, err)

	require.NoError(t, a.Contacts.PublishFollowList(ctx))

	ev, err := rl.FetchLatest(ctx, nostr.Filter{Kinds: []int{nostr.KindContactList}})
	require.NoError(t, err)
	require.NotNil(t, ev)
	tags := ev.Tags.GetAll([]string{"p"})
	require.Len(t, tags, 1)
	assert.Equal(t, a1, tags[0][1], "private contacts never reach the published list")
}
