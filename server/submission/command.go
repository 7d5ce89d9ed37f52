package submission

import "strings"

// CommandKind identifies which protocol command a line was parsed into.
type CommandKind int

const (
	CommandUnrecognized CommandKind = iota
	CommandGreet
	CommandSender
	CommandRecipient
	CommandBeginBody
)

// Protocol keywords. Matching is byte-exact.
const (
	greetKeyword     = "HELO"
	senderPrefix     = "MAIL FROM:<"
	recipientPrefix  = "RCPT TO:<"
	mailboxSuffix    = ">"
	beginBodyKeyword = "DATA"
)

func (k CommandKind) String() string {
	switch k {
	case CommandGreet:
		return "HELO"
	case CommandSender:
		return "MAIL"
	case CommandRecipient:
		return "RCPT"
	case CommandBeginBody:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// Command is a single parsed protocol line. Arg holds the identity for
// CommandGreet and the mailbox for CommandSender/CommandRecipient.
type Command struct {
	Kind CommandKind
	Arg  string
}

// ParseCommand classifies one line (CRLF already stripped) into a Command.
// Surrounding whitespace is ignored. Mailboxes are not validated beyond
// their angle-bracket delimiters.
func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)

	if rest, ok := strings.CutPrefix(line, greetKeyword); ok && rest != "" && isSeparator(rest[0]) {
		return Command{Kind: CommandGreet, Arg: strings.TrimSpace(rest)}
	}
	if mailbox, ok := enclosedMailbox(line, senderPrefix); ok {
		return Command{Kind: CommandSender, Arg: mailbox}
	}
	if mailbox, ok := enclosedMailbox(line, recipientPrefix); ok {
		return Command{Kind: CommandRecipient, Arg: mailbox}
	}
	if line == beginBodyKeyword {
		return Command{Kind: CommandBeginBody}
	}
	return Command{Kind: CommandUnrecognized}
}

// enclosedMailbox returns the text between prefix and a trailing '>'.
func enclosedMailbox(line, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return "", false
	}
	inner, ok := strings.CutSuffix(rest, mailboxSuffix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

func isSeparator(b byte) bool {
	return b == ' ' || b == '\t'
}
