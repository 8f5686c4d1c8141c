package prompts

import "strings"

// replyInstruction opens every reply prompt.
const replyInstruction = "Generate a professional email reply for the following email content. " +
	"Please don't generate a subject line."

// originalEmailSeparator precedes the untouched email body.
const originalEmailSeparator = "\nOriginal email:\n"

// EmailReplyPrompt builds the generation prompt for an email reply.
//
// A tone clause is added only when tone has non-whitespace content. The
// email content is appended verbatim after the separator, with no
// truncation or escaping; empty content leaves an empty trailing
// section.
func EmailReplyPrompt(emailContent, tone string) string {
	var b strings.Builder
	b.Grow(len(replyInstruction) + len(originalEmailSeparator) + len(emailContent) + len(tone) + 16)

	b.WriteString(replyInstruction)
	if t := strings.TrimSpace(tone); t != "" {
		b.WriteString(" Use a ")
		b.WriteString(t)
		b.WriteString(" tone.")
	}
	b.WriteString(originalEmailSeparator)
	b.WriteString(emailContent)
	return b.String()
}
