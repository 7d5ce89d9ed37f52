package submission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{"helo", "HELO client.example.org", Command{Kind: CommandGreet, Arg: "client.example.org"}},
		{"helo tab separator", "HELO\tclient", Command{Kind: CommandGreet, Arg: "client"}},
		{"helo trims identity", "HELO    client   ", Command{Kind: CommandGreet, Arg: "client"}},
		{"helo surrounding whitespace", "  HELO client\t", Command{Kind: CommandGreet, Arg: "client"}},
		{"helo keeps inner spaces", "HELO my host", Command{Kind: CommandGreet, Arg: "my host"}},
		{"helo without separator", "HELO", Command{Kind: CommandUnrecognized}},
		{"helo glued", "HELOclient", Command{Kind: CommandUnrecognized}},
		{"helo lowercase", "helo client", Command{Kind: CommandUnrecognized}},
		{"ehlo", "EHLO client", Command{Kind: CommandUnrecognized}},

		{"mail", "MAIL FROM:<alice@example.org>", Command{Kind: CommandSender, Arg: "alice@example.org"}},
		{"mail null sender", "MAIL FROM:<>", Command{Kind: CommandSender, Arg: ""}},
		{"mail trims mailbox", "MAIL FROM:< alice@example.org >", Command{Kind: CommandSender, Arg: "alice@example.org"}},
		{"mail no validation", "MAIL FROM:<not an address>", Command{Kind: CommandSender, Arg: "not an address"}},
		{"mail missing close", "MAIL FROM:<alice@example.org", Command{Kind: CommandUnrecognized}},
		{"mail trailing params", "MAIL FROM:<alice@example.org> SIZE=100", Command{Kind: CommandUnrecognized}},
		{"mail space before bracket", "MAIL FROM: <alice@example.org>", Command{Kind: CommandUnrecognized}},
		{"mail lowercase", "mail from:<alice@example.org>", Command{Kind: CommandUnrecognized}},

		{"rcpt", "RCPT TO:<bob@example.com>", Command{Kind: CommandRecipient, Arg: "bob@example.com"}},
		{"rcpt surrounding whitespace", "\tRCPT TO:<bob@example.com>  ", Command{Kind: CommandRecipient, Arg: "bob@example.com"}},
		{"rcpt nested brackets", "RCPT TO:<<bob>>", Command{Kind: CommandRecipient, Arg: "<bob>"}},
		{"rcpt missing open", "RCPT TO:bob@example.com>", Command{Kind: CommandUnrecognized}},

		{"data", "DATA", Command{Kind: CommandBeginBody}},
		{"data with whitespace", "  DATA ", Command{Kind: CommandBeginBody}},
		{"data with argument", "DATA now", Command{Kind: CommandUnrecognized}},
		{"data lowercase", "data", Command{Kind: CommandUnrecognized}},

		{"empty", "", Command{Kind: CommandUnrecognized}},
		{"blank", "   ", Command{Kind: CommandUnrecognized}},
		{"noop", "NOOP", Command{Kind: CommandUnrecognized}},
		{"quit", "QUIT", Command{Kind: CommandUnrecognized}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand(tt.line))
		})
	}
}

func TestCommandKindString(t *testing.T) {
	assert.Equal(t, "HELO", CommandGreet.String())
	assert.Equal(t, "MAIL", CommandSender.String())
	assert.Equal(t, "RCPT", CommandRecipient.String())
	assert.Equal(t, "DATA", CommandBeginBody.String())
	assert.Equal(t, "UNKNOWN", CommandUnrecognized.String())
}
