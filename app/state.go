// Package app is the nostr-mail bridge engine: conversation
// synchronization, contact sync against the published follow list,
// avatar caching and the DM-to-email replication protocol. Everything
// here works cache-first and treats the relay network as unreliable.
package app

import (
	"context"
	"errors"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrmail/nostrmail/pkg/keys"
	log2 "github.com/nostrmail/nostrmail/pkg/log"
	"github.com/nostrmail/nostrmail/pkg/mail"
	"github.com/nostrmail/nostrmail/pkg/store"
)

var log = log2.GetStd()

// ErrSignature reports an event that failed authentication. The event
// is discarded as untrusted; this is never a fatal system error.
var ErrSignature = errors.New("event failed signature verification")

// Relay is the relay surface the engine consumes. *relay.Client
// implements it; tests substitute fakes.
type Relay interface {
	Query(ctx context.Context, f nostr.Filter) ([]*nostr.Event, error)
	FetchLatest(ctx context.Context, f nostr.Filter) (*nostr.Event, error)
	Publish(ctx context.Context, ev nostr.Event) (int, error)
	HasEvent(ctx context.Context, id string) (bool, error)
}

// KeyState is the local identity: the private key and its derived
// public key, both hex. The private scalar never leaves this struct
// except into pkg/keys derivations.
type KeyState struct {
	PrivateKey string
	PublicKey  string
}

// NewKeyState validates and normalizes a private key (hex or nsec) and
// derives the public half.
func NewKeyState(sk string) (KeyState, error) {
	sk, err := keys.Decode(sk)
	if err != nil {
		return KeyState{}, err
	}
	pub, err := keys.PublicKey(sk)
	if err != nil {
		return KeyState{}, err
	}
	return KeyState{PrivateKey: sk, PublicKey: pub}, nil
}

// App wires the engines around shared state: one identity, one relay
// client, one durable store. Each sub-engine owns its slice of state so
// unrelated mutations cannot alias (no shared global record).
type App struct {
	Keys          KeyState
	Relay         Relay
	Store         *store.Store
	Contacts      *ContactEngine
	Conversations *ConversationStore
	Images        *ImageCache
	Bridge        *Bridge
}

// New assembles the engine. mailer may be nil when the mail bridge is
// not configured; Bridge is nil in that case.
func New(ks KeyState, rl Relay, st *store.Store, mailer mail.Mailer) *App {
	a := &App{
		Keys:          ks,
		Relay:         rl,
		Store:         st,
		Contacts:      &ContactEngine{relay: rl, store: st, keys: ks},
		Conversations: NewConversationStore(ks, rl, st),
		Images:        NewImageCache(st),
	}
	if mailer != nil {
		a.Bridge = &Bridge{keys: ks, relay: rl, sender: mailer, searcher: mailer}
	}
	return a
}
