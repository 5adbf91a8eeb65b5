// Package mail defines the mail transport the bridge consumes. The
// bridge only needs two capabilities: sending a message and locating a
// received message by its literal subject string. SMTP/IMAP mechanics
// live behind these interfaces.
package mail

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNoMatch reports that no stored message matches a subject search.
var ErrNoMatch = errors.New("no message matches subject")

// Message is a plain email as the bridge sees it.
type Message struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
}

// Sender sends outbound mail.
type Sender interface {
	SendMail(to, subject, body string) error
}

// Searcher locates a received message whose subject contains the given
// substring, newest first.
type Searcher interface {
	SearchBySubject(substr string) (*Message, error)
}

// Mailer is the full transport surface the bridge consumes.
type Mailer interface {
	Sender
	Searcher
}

// Mailbox is an in-memory mail store with subject search. It backs the
// tests and the demo commands; a real deployment plugs an IMAP-backed
// Searcher in instead.
type Mailbox struct {
	mx       sync.Mutex
	From     string
	messages []Message
}

var _ Mailer = (*Mailbox)(nil)

// Deliver stores an inbound message.
func (m *Mailbox) Deliver(msg Message) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	m.messages = append(m.messages, msg)
}

// SendMail loops the message back into the box, which is exactly what
// the end-to-end tests need: the "sent" mail is findable by subject.
func (m *Mailbox) SendMail(to, subject, body string) error {
	m.Deliver(Message{From: m.From, To: to, Subject: subject, Body: body})
	return nil
}

// SearchBySubject returns the newest message whose subject contains
// substr.
func (m *Mailbox) SearchBySubject(substr string) (*Message, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if strings.Contains(m.messages[i].Subject, substr) {
			msg := m.messages[i]
			return &msg, nil
		}
	}
	return nil, ErrNoMatch
}

// Len reports the number of stored messages.
func (m *Mailbox) Len() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return len(m.messages)
}
