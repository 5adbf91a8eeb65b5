package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxSearchNewestFirst(t *testing.T) {
	box := &Mailbox{From: "a@x"}
	box.Deliver(Message{Subject: "abc first", Body: "1"})
	box.Deliver(Message{Subject: "unrelated", Body: "2"})
	box.Deliver(Message{Subject: "abc second", Body: "3"})

	got, err := box.SearchBySubject("abc")
	require.NoError(t, err)
	assert.Equal(t, "3", got.Body, "the newest matching message wins")

	_, err = box.SearchBySubject("nothing like this")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMailboxSendLoopsBack(t *testing.T) {
	box := &Mailbox{From: "a@x"}
	require.NoError(t, box.SendMail("b@y", "subj?enc", "body"))
	require.Equal(t, 1, box.Len())
	got, err := box.SearchBySubject("subj?enc")
	require.NoError(t, err)
	assert.Equal(t, "a@x", got.From)
	assert.Equal(t, "b@y", got.To)
	assert.False(t, got.Date.IsZero())
}

func TestFormatMessageKeepsSubjectVerbatim(t *testing.T) {
	enc := "A7xq+Zw==?iv=Bt1m=="
	msg := string(formatMessage("a@x", "b@y", enc, "body"))
	assert.Contains(t, msg, "Subject: "+enc+"\r\n")
	assert.Contains(t, msg, "\r\n\r\nbody")
}
