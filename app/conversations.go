package app

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"lukechampine.com/frand"

	"github.com/nostrmail/nostrmail/pkg/cipher"
	"github.com/nostrmail/nostrmail/pkg/keys"
	"github.com/nostrmail/nostrmail/pkg/store"
)

// Direction of a message relative to the local identity.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// MessageID identifies a message in one of two states: pending, under a
// locally generated id, before the signed event exists; or by its event
// id once signed. Exactly one of the fields is set.
type MessageID struct {
	Local string `json:"local,omitempty"`
	Event string `json:"event,omitempty"`
}

// NewLocalID returns a fresh pending id.
func NewLocalID() MessageID {
	return MessageID{Local: hex.EncodeToString(frand.Bytes(16))}
}

// Pending reports whether the message has no event id yet.
func (id MessageID) Pending() bool { return id.Event == "" }

// String returns whichever id is set.
func (id MessageID) String() string {
	if id.Event != "" {
		return id.Event
	}
	return id.Local
}

// Message is one decrypted direct message.
type Message struct {
	ID        MessageID `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Direction Direction `json:"direction"`
	// Confirmed flips true only once the event has been observed back
	// from a relay, not when the publish call returns.
	Confirmed bool `json:"confirmed"`
	// DecryptFailed marks a message whose ciphertext did not open with
	// our secret. It is kept in place so the conversation shows a gap
	// rather than silently shrinking.
	DecryptFailed bool `json:"decrypt_failed,omitempty"`
}

// Conversation is the message history with one contact.
type Conversation struct {
	Contact  string    `json:"contact"`
	Messages []Message `json:"messages"`
	LastAt   time.Time `json:"last_at"`
}

// LastMessage returns the newest message, or nil.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

func (c *Conversation) sort() {
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].CreatedAt.Before(c.Messages[j].CreatedAt)
	})
	if m := c.LastMessage(); m != nil {
		c.LastAt = m.CreatedAt
	}
}

// Confirmation polling bounds. A publish ack only proves a relay took
// the event; confirmation means reading it back.
const (
	confirmAttempts    = 10
	confirmBackoffBase = 500 * time.Millisecond
	confirmBackoffMax  = 8 * time.Second
)

const conversationPrefix = "conversation/"

// ConversationStore is the offline-first store of direct message
// threads: cached snapshots serve immediately, refreshes merge network
// state in without ever losing an optimistic local send.
type ConversationStore struct {
	keys  KeyState
	relay Relay
	store *store.Store

	mx  sync.Mutex
	gen map[string]uint64 // selection generation per contact
	cmx map[string]*sync.Mutex
}

// NewConversationStore returns a store over the given identity.
func NewConversationStore(ks KeyState, rl Relay, st *store.Store) *ConversationStore {
	return &ConversationStore{
		keys:  ks,
		relay: rl,
		store: st,
		gen:   map[string]uint64{},
		cmx:   map[string]*sync.Mutex{},
	}
}

// lock returns the per-conversation mutex, creating it on first use.
// Refresh and Send serialize on it so a merge cannot race an append.
func (s *ConversationStore) lock(contact string) *sync.Mutex {
	s.mx.Lock()
	defer s.mx.Unlock()
	m, ok := s.cmx[contact]
	if !ok {
		m = &sync.Mutex{}
		s.cmx[contact] = m
	}
	return m
}

// Select marks contact as the active conversation and returns the new
// generation. A refresh started under an older generation discards its
// result instead of clobbering the newer selection.
func (s *ConversationStore) Select(contact string) uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.gen[contact]++
	return s.gen[contact]
}

func (s *ConversationStore) generation(contact string) uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.gen[contact]
}

// Cached returns the stored snapshot for contact, empty if none.
func (s *ConversationStore) Cached(contact string) (*Conversation, error) {
	entry, err := store.GetEntry[Conversation](s.store, conversationPrefix+contact)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrCorrupt) {
		return &Conversation{Contact: contact}, nil
	}
	if err != nil {
		return nil, err
	}
	c := entry.Value
	return &c, nil
}

// Load returns the cached snapshot immediately and runs a network
// refresh, returning the merged result. Callers wanting the background
// variant run Refresh themselves after showing the cache.
func (s *ConversationStore) Load(ctx context.Context, contact string) (*Conversation, error) {
	gen := s.Select(contact)
	cached, err := s.Cached(contact)
	if err != nil {
		return nil, err
	}
	fresh, err := s.Refresh(ctx, contact, gen)
	if err != nil {
		log.Fail(err)
		return cached, nil
	}
	if fresh == nil { // stale generation, a newer selection won
		return cached, nil
	}
	return fresh, nil
}

// Refresh queries kind 4 traffic in both directions, decrypts, merges
// into the stored snapshot and persists. It returns nil (and no error)
// when gen is no longer the current selection generation. The merge
// runs read-latest, merge, write under the conversation lock.
func (s *ConversationStore) Refresh(ctx context.Context, contact string, gen uint64) (*Conversation, error) {
	secret, err := keys.DeriveSharedSecret(s.keys.PrivateKey, contact)
	if err != nil {
		return nil, err
	}
	sent, err := s.relay.Query(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindEncryptedDirectMessage},
		Authors: []string{s.keys.PublicKey},
		Tags:    nostr.TagMap{"p": []string{contact}},
	})
	if err != nil {
		return nil, err
	}
	received, err := s.relay.Query(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindEncryptedDirectMessage},
		Authors: []string{contact},
		Tags:    nostr.TagMap{"p": []string{s.keys.PublicKey}},
	})
	if err != nil {
		return nil, err
	}
	if gen != 0 && gen != s.generation(contact) {
		return nil, nil
	}

	var network []Message
	for _, ev := range append(sent, received...) {
		network = append(network, s.decryptEvent(ev, contact, secret))
	}

	mx := s.lock(contact)
	mx.Lock()
	defer mx.Unlock()
	conv, err := s.Cached(contact)
	if err != nil {
		return nil, err
	}
	merge(conv, network)
	if err = store.PutEntry(s.store, conversationPrefix+contact, *conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// decryptEvent turns a verified kind 4 event into a Message. Decrypt
// failure keeps the message with a marker instead of dropping it.
func (s *ConversationStore) decryptEvent(ev *nostr.Event, contact string, secret []byte) Message {
	m := Message{
		ID:        MessageID{Event: ev.ID},
		CreatedAt: ev.CreatedAt.Time(),
		Sender:    ev.PubKey,
		Confirmed: true,
	}
	if ev.PubKey == s.keys.PublicKey {
		m.Direction = DirectionSent
		m.Receiver = contact
	} else {
		m.Direction = DirectionReceived
		m.Receiver = s.keys.PublicKey
	}
	plain, err := cipher.Decrypt(ev.Content, secret)
	if err != nil {
		log.D.F("cannot decrypt event %s: %v", ev.ID, err)
		m.DecryptFailed = true
		return m
	}
	m.Content = plain
	return m
}

// merge folds network messages into the conversation: events replace or
// append by event id, pending local messages survive verbatim.
func merge(conv *Conversation, network []Message) {
	byEvent := map[string]int{}
	for i, m := range conv.Messages {
		if !m.ID.Pending() {
			byEvent[m.ID.Event] = i
		}
	}
	for _, m := range network {
		if i, ok := byEvent[m.ID.Event]; ok {
			conv.Messages[i] = m
		} else {
			conv.Messages = append(conv.Messages, m)
			byEvent[m.ID.Event] = len(conv.Messages) - 1
		}
	}
	conv.sort()
}

// Send appends the message optimistically under a pending id, persists,
// then encrypts, signs and publishes. On at least one relay ack the
// pending id transitions to the event id; Confirmed stays false until
// AwaitConfirmation observes the event back from the network.
func (s *ConversationStore) Send(ctx context.Context, contact, text string) (MessageID, error) {
	secret, err := keys.DeriveSharedSecret(s.keys.PrivateKey, contact)
	if err != nil {
		return MessageID{}, err
	}

	localID := NewLocalID()
	msg := Message{
		ID:        localID,
		Content:   text,
		CreatedAt: time.Now(),
		Sender:    s.keys.PublicKey,
		Receiver:  contact,
		Direction: DirectionSent,
	}
	mx := s.lock(contact)
	mx.Lock()
	conv, err := s.Cached(contact)
	if err == nil {
		conv.Messages = append(conv.Messages, msg)
		conv.sort()
		err = store.PutEntry(s.store, conversationPrefix+contact, *conv)
	}
	mx.Unlock()
	if err != nil {
		return MessageID{}, err
	}

	content, err := cipher.Encrypt(text, secret)
	if err != nil {
		return localID, err
	}
	ev := nostr.Event{
		PubKey:    s.keys.PublicKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", contact}},
		Content:   content,
	}
	if err = ev.Sign(s.keys.PrivateKey); err != nil {
		return localID, err
	}
	if _, err = s.relay.Publish(ctx, ev); err != nil {
		// the pending entry stays; a later send or refresh retries
		return localID, err
	}

	eventID := MessageID{Event: ev.ID}
	if err = s.transition(contact, localID, eventID); err != nil {
		return eventID, err
	}
	return eventID, nil
}

// transition rewrites a pending id to its event id in place.
func (s *ConversationStore) transition(contact string, from, to MessageID) error {
	mx := s.lock(contact)
	mx.Lock()
	defer mx.Unlock()
	conv, err := s.Cached(contact)
	if err != nil {
		return err
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == from {
			conv.Messages[i].ID = to
			break
		}
	}
	return store.PutEntry(s.store, conversationPrefix+contact, *conv)
}

// AwaitConfirmation polls the relay set until the event is observed
// back, then marks the message confirmed and persists. Bounded at ten
// attempts with doubling backoff from 500ms, capped at 8s; the context
// cancels it early.
func (s *ConversationStore) AwaitConfirmation(ctx context.Context, contact, eventID string) error {
	backoff := confirmBackoffBase
	for attempt := 0; attempt < confirmAttempts; attempt++ {
		ok, err := s.relay.HasEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ok {
			return s.markConfirmed(contact, eventID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > confirmBackoffMax {
			backoff = confirmBackoffMax
		}
	}
	return errors.New("event " + eventID + " not observed on any relay")
}

func (s *ConversationStore) markConfirmed(contact, eventID string) error {
	mx := s.lock(contact)
	mx.Lock()
	defer mx.Unlock()
	conv, err := s.Cached(contact)
	if err != nil {
		return err
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID.Event == eventID {
			conv.Messages[i].Confirmed = true
			break
		}
	}
	return store.PutEntry(s.store, conversationPrefix+contact, *conv)
}

// List returns every stored conversation, newest activity first.
func (s *ConversationStore) List() ([]*Conversation, error) {
	ks, err := s.store.Keys(conversationPrefix)
	if err != nil {
		return nil, err
	}
	var out []*Conversation
	for _, k := range ks {
		contact := k[len(conversationPrefix):]
		conv, err := s.Cached(contact)
		if err != nil {
			return nil, err
		}
		if len(conv.Messages) > 0 {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAt.After(out[j].LastAt)
	})
	return out, nil
}
