// Package mail polls an IMAP mailbox for newsletter messages and parses them
// into sender/subject/body form for extraction.
package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Message is a parsed email ready for newsletter extraction.
type Message struct {
	From    string
	Subject string
	Body    string
	IsHTML  bool
}

// ParseMessage parses a raw RFC 5322 message. The HTML part is preferred
// over plain text when both exist, since the digest formats pattern-match on
// rendered HTML structure.
func ParseMessage(raw []byte) (*Message, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer reader.Close()

	msg := &Message{}
	if addrs, err := reader.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.From = addrs[0].Address
	} else {
		msg.From = reader.Header.Get("From")
	}
	msg.Subject, _ = reader.Header.Subject()

	var plainBody string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken part does not invalidate parts already read.
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()

		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/html"):
			msg.Body = string(content)
			msg.IsHTML = true
		case strings.HasPrefix(contentType, "text/plain") && plainBody == "":
			plainBody = string(content)
		}
	}

	if msg.Body == "" {
		msg.Body = plainBody
	}
	if msg.Body == "" {
		return nil, fmt.Errorf("message from %q has no readable text part", msg.From)
	}

	return msg, nil
}
