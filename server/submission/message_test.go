package submission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageHeader(t *testing.T) {
	msg := &Message{Body: "From: Alice <alice@example.org>\r\nSubject: =?utf-8?q?caf=C3=A9?=\r\nMessage-ID: <abc@example.org>\r\n\r\nbody text"}

	h, err := msg.Header()
	require.NoError(t, err)
	assert.Equal(t, "Alice <alice@example.org>", h.Get("From"))

	mid, err := h.MessageID()
	require.NoError(t, err)
	assert.Equal(t, "abc@example.org", mid)

	assert.Equal(t, "café", msg.Subject())
}

func TestMessageHeaderOnly(t *testing.T) {
	msg := &Message{Body: "Subject: no body"}
	assert.Equal(t, "no body", msg.Subject())
}

func TestMessageWithoutHeader(t *testing.T) {
	msg := &Message{Body: "just some text\r\nwithout headers"}
	_, err := msg.Header()
	assert.Error(t, err)
	assert.Equal(t, "", msg.Subject())

	assert.Equal(t, "", (&Message{}).Subject())
}

func TestMessageWire(t *testing.T) {
	assert.Nil(t, (&Message{}).Wire())
	assert.Equal(t, "a\r\n.b\r\n", string((&Message{Body: "a\r\n.b"}).Wire()))
	assert.Equal(t, 6, (&Message{Body: "a\r\n.b"}).Size())
}
