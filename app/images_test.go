package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrmail/nostrmail/pkg/store"
)

func avatarServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/ok"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("pngbytes"))
		case strings.HasPrefix(r.URL.Path, "/noheader"):
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("jpgbytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testContact(pubkey, picture string) *Contact {
	f := NewFields()
	f.Set("picture", picture)
	return &Contact{Pubkey: pubkey, Fields: f, Privacy: PrivacyPublic}
}

func TestLoadAvatarsFailureIsolation(t *testing.T) {
	srv := avatarServer(t, nil)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ic := NewImageCache(st)

	good := testContact("good", srv.URL+"/ok/a.png")
	bad := testContact("bad", srv.URL+"/missing.png")
	other := testContact("other", srv.URL+"/ok/b.png")

	var flushes int
	err = ic.LoadAvatars(context.Background(), []*Contact{good, bad, other},
		func() error { flushes++; return nil })
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(good.PictureDataURL, "data:image/png;base64,"))
	assert.True(t, strings.HasPrefix(other.PictureDataURL, "data:image/png;base64,"))

	assert.Empty(t, bad.PictureDataURL,
		"a 404 leaves the model field empty, it must not disturb siblings")
	assert.Equal(t, PlaceholderAvatar, bad.Avatar(),
		"the placeholder appears only at render time")
	assert.Equal(t, 1, flushes, "three contacts fit one batch")
}

func TestLoadAvatarsRetriesAfterFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// first attempt fails, second succeeds
		if calls.Add(1) == 1 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("pngbytes"))
	}))
	t.Cleanup(srv.Close)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ic := NewImageCache(st)

	c := testContact("pk1", srv.URL+"/a.png")
	require.NoError(t, ic.LoadAvatars(context.Background(), []*Contact{c}, nil))
	require.Empty(t, c.PictureDataURL)

	require.NoError(t, ic.LoadAvatars(context.Background(), []*Contact{c}, nil))
	assert.True(t, strings.HasPrefix(c.PictureDataURL, "data:image/png;base64,"),
		"a failed fetch must not block the next pass")
}

func TestLoadAvatarsLeavesProfileFlagAlone(t *testing.T) {
	srv := avatarServer(t, nil)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ic := NewImageCache(st)

	c := testContact("pk1", srv.URL+"/missing.png")
	c.ProfileLoaded = true // kind 0 fields already fetched

	require.NoError(t, ic.LoadAvatars(context.Background(), []*Contact{c}, nil))
	assert.True(t, c.ProfileLoaded,
		"an unreachable picture must not force a profile refetch")
}

func TestLoadAvatarsServesFromStore(t *testing.T) {
	var hits atomic.Int64
	srv := avatarServer(t, &hits)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ic := NewImageCache(st)

	first := testContact("pk1", srv.URL+"/ok/a.png")
	require.NoError(t, ic.LoadAvatars(context.Background(), []*Contact{first}, nil))
	require.EqualValues(t, 1, hits.Load())

	// same pubkey again, fresh contact struct: must come from the store
	second := testContact("pk1", srv.URL+"/ok/a.png")
	require.NoError(t, ic.LoadAvatars(context.Background(), []*Contact{second}, nil))
	assert.EqualValues(t, 1, hits.Load(), "cached avatar must not refetch")
	assert.Equal(t, first.PictureDataURL, second.PictureDataURL)
}

func TestLoadAvatarsBatching(t *testing.T) {
	srv := avatarServer(t, nil)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ic := NewImageCache(st)
	ic.BatchSize = 1 // clamps up to the minimum of 3

	var contacts []*Contact
	for i := 0; i < 7; i++ {
		contacts = append(contacts, testContact(
			"pk"+string(rune('a'+i)), srv.URL+"/ok/x.png"))
	}
	var flushes int
	require.NoError(t, ic.LoadAvatars(context.Background(), contacts,
		func() error { flushes++; return nil }))
	assert.Equal(t, 3, flushes, "7 contacts in clamped batches of 3")
	for _, c := range contacts {
		assert.NotEmpty(t, c.PictureDataURL)
	}
}

func TestLoadAvatarsSkipsLoadedAndPictureless(t *testing.T) {
	var hits atomic.Int64
	srv := avatarServer(t, &hits)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ic := NewImageCache(st)

	noPicture := &Contact{Pubkey: "x", Fields: NewFields()}
	loaded := testContact("y", srv.URL+"/ok/a.png")
	loaded.PictureDataURL = "data:image/png;base64,already"

	require.NoError(t, ic.LoadAvatars(context.Background(),
		[]*Contact{noPicture, loaded}, nil))
	assert.EqualValues(t, 0, hits.Load())
	assert.Equal(t, "data:image/png;base64,already", loaded.PictureDataURL)
}

func TestFetchMimeFallsBackToExtension(t *testing.T) {
	srv := avatarServer(t, nil)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ic := NewImageCache(st)

	dataURL, err := ic.Fetch(context.Background(), srv.URL+"/noheader/pic.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/jpeg;base64,"),
		"octet-stream falls back to the URL extension, got %s", dataURL)
}
