// Package email turns raw RFC 5322 messages into the plain text that
// reply generation works on, and renders generated replies as HTML.
package email

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxBodySize is the maximum body size kept from a single part.
// Larger bodies are truncated with a note.
const maxBodySize = 64 * 1024

const truncatedNote = "\n\n[truncated: message exceeds 64KB]"

// ErrNoBody is returned when a message has neither a text/plain nor a
// text/html inline part.
var ErrNoBody = errors.New("message has no readable text body")

// Message is the subset of a parsed email needed to draft a reply.
type Message struct {
	From      string
	Subject   string
	MessageID string
	TextBody  string
	HTMLBody  string
}

// Content returns the text to reply to: the text/plain body when
// present, otherwise the HTML body reduced to readable text.
func (m *Message) Content() string {
	if m.TextBody != "" {
		return m.TextBody
	}
	if m.HTMLBody != "" {
		return htmlToText(m.HTMLBody)
	}
	return ""
}

// Parse reads a raw message and extracts its headers and the first
// text/plain and text/html inline parts. Attachments are skipped.
//
// mail.CreateReader and NextPart may return a usable reader together
// with an unknown-charset error. Those are logged and parsing
// continues; the content may be slightly garbled but is still worth
// replying to.
func Parse(r io.Reader, logger *slog.Logger) (*Message, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("create mail reader: %w", err)
	}
	if mr == nil {
		return nil, fmt.Errorf("create mail reader returned nil: %w", err)
	}
	if err != nil {
		logger.Debug("mail reader created with charset warning", "error", err)
	}
	defer mr.Close()

	msg := &Message{}
	msg.Subject, _ = mr.Header.Subject()
	msg.MessageID, _ = mr.Header.MessageID()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].String()
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}
		if err != nil {
			logger.Debug("part has charset warning", "error", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		switch {
		case contentType == "text/plain" && msg.TextBody == "":
			msg.TextBody = readPart(part.Body, logger)
		case contentType == "text/html" && msg.HTMLBody == "":
			msg.HTMLBody = readPart(part.Body, logger)
		}
	}

	if msg.TextBody == "" && msg.HTMLBody == "" {
		return nil, ErrNoBody
	}
	return msg, nil
}

func readPart(r io.Reader, logger *slog.Logger) string {
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		logger.Debug("error reading body part", "error", err)
		return ""
	}
	text := string(body)
	if len(body) > maxBodySize {
		cut := maxBodySize
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		text = text[:cut] + truncatedNote
	}
	return strings.TrimSpace(text)
}
