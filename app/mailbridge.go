package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrmail/nostrmail/pkg/cipher"
	"github.com/nostrmail/nostrmail/pkg/keys"
	"github.com/nostrmail/nostrmail/pkg/mail"
)

// ErrEventNotFound reports that no event with the requested id is
// addressed to us on any relay.
var ErrEventNotFound = errors.New("event not found")

// Bridge replicates an encrypted email into a nostr direct message and
// verifies the link on the receiving side. The link is the encrypted
// subject: subject and body are encrypted under the same shared secret
// and the same IV, and the DM event's content is exactly the encrypted
// subject string, so the receiver can find the mail by searching for
// that literal string.
type Bridge struct {
	keys     KeyState
	relay    Relay
	sender   mail.Sender
	searcher mail.Searcher
}

// NewBridge wires a bridge over explicit mail endpoints, used when
// sending and searching go through different transports.
func NewBridge(ks KeyState, rl Relay, sender mail.Sender, searcher mail.Searcher) *Bridge {
	return &Bridge{keys: ks, relay: rl, sender: sender, searcher: searcher}
}

// SentEmail is the result of a replicated send.
type SentEmail struct {
	EventID    string
	EncSubject string
	EncBody    string
}

// SendEncryptedEmail encrypts subject and body for the contact, anchors
// the encrypted subject on the relays as a kind 4 event, and only then
// sends the mail. Publishing first means a mail never exists without
// its verifiable anchor.
func (b *Bridge) SendEncryptedEmail(ctx context.Context, contact, email, subject, body string) (*SentEmail, error) {
	secret, err := keys.DeriveSharedSecret(b.keys.PrivateKey, contact)
	if err != nil {
		return nil, err
	}
	// one IV for both parts; reusing it is what makes the subject and
	// body provably part of the same send
	iv := make([]byte, 16)
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	encSubject, err := cipher.EncryptV1WithIV(subject, secret, iv)
	if err != nil {
		return nil, err
	}
	encBody, err := cipher.EncryptV1WithIV(body, secret, iv)
	if err != nil {
		return nil, err
	}

	ev := nostr.Event{
		PubKey:    b.keys.PublicKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", contact}},
		Content:   encSubject,
	}
	if err = ev.Sign(b.keys.PrivateKey); err != nil {
		return nil, err
	}
	if _, err = b.relay.Publish(ctx, ev); err != nil {
		return nil, fmt.Errorf("anchoring email event: %w", err)
	}
	if err = b.sender.SendMail(email, encSubject, encBody); err != nil {
		return nil, err
	}
	return &SentEmail{EventID: ev.ID, EncSubject: encSubject, EncBody: encBody}, nil
}

// VerifiedEmail is a received email tied back to its relay anchor.
type VerifiedEmail struct {
	Subject string
	Body    string
	Sender  string
	// Linked is true when the mail was located by its encrypted subject
	// and its body opened with the same secret. A false value means the
	// mail is ordinary and unauthenticated, not that an attack happened.
	Linked bool
	Mail   *mail.Message
}

// VerifyInboundEmail runs the receiver side of the protocol for one
// event id: verify the event signature, derive the shared secret with
// its author, decrypt the content into the subject, locate the mail by
// the literal encrypted subject string and decrypt its body.
func (b *Bridge) VerifyInboundEmail(ctx context.Context, eventID string) (*VerifiedEmail, error) {
	evs, err := b.relay.Query(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return nil, err
	}
	var ev *nostr.Event
	for _, e := range evs {
		for _, tag := range e.Tags.GetAll([]string{"p"}) {
			if len(tag) >= 2 && tag[1] == b.keys.PublicKey {
				ev = e
			}
		}
	}
	if ev == nil {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	// relay.Client already verifies, but the bridge must not trust the
	// transport it was handed
	if ok, err := ev.CheckSignature(); !ok || err != nil {
		return nil, fmt.Errorf("%w: event %s", ErrSignature, eventID)
	}

	secret, err := keys.DeriveSharedSecret(b.keys.PrivateKey, ev.PubKey)
	if err != nil {
		return nil, err
	}
	subject, err := cipher.DecryptV1(ev.Content, secret)
	if err != nil {
		// not our ciphertext; an ordinary DM id was passed in
		return &VerifiedEmail{Sender: ev.PubKey}, nil
	}
	out := &VerifiedEmail{Subject: subject, Sender: ev.PubKey}

	msg, err := b.searcher.SearchBySubject(ev.Content)
	if err != nil {
		if errors.Is(err, mail.ErrNoMatch) {
			return out, nil
		}
		return nil, err
	}
	body, err := cipher.DecryptV1(msg.Body, secret)
	if err != nil {
		log.D.F("mail matched subject of %s but body does not decrypt", eventID)
		return out, nil
	}
	out.Body = body
	out.Linked = true
	out.Mail = msg
	return out, nil
}
