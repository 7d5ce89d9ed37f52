package submission

import (
	"bufio"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// Message is the result of a completed session. It is never modified after
// Session.Run returns it.
type Message struct {
	ID         string
	Identity   string // HELO argument
	Sender     string // MAIL FROM mailbox
	Recipient  string // RCPT TO mailbox
	Body       string // unstuffed body without the terminator
	RemoteAddr string
	ReceivedAt time.Time
}

// Size is the body length in bytes.
func (m *Message) Size() int {
	return len(m.Body)
}

// Header parses the RFC 5322 header block at the top of the body. It fails
// when the body does not start with a header block.
func (m *Message) Header() (mail.Header, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(m.Body + "\r\n\r\n")))
	if err != nil {
		return mail.Header{}, err
	}
	return mail.Header{Header: message.Header{Header: h}}, nil
}

// Subject returns the decoded Subject header, or "" when there is none or
// the header block cannot be parsed.
func (m *Message) Subject() string {
	h, err := m.Header()
	if err != nil {
		return ""
	}
	subject, err := h.Subject()
	if err != nil {
		return h.Get("Subject")
	}
	return subject
}

// Wire returns the message as it would be relayed: the body with a
// trailing CRLF, not dot-stuffed.
func (m *Message) Wire() []byte {
	if m.Body == "" {
		return nil
	}
	return []byte(m.Body + "\r\n")
}
