package prompts

import (
	"strings"
	"testing"
)

// instructionPart returns everything before the original email so
// assertions are not confused by words inside the email itself.
func instructionPart(t *testing.T, prompt string) string {
	t.Helper()
	head, _, ok := strings.Cut(prompt, originalEmailSeparator)
	if !ok {
		t.Fatalf("prompt missing separator: %q", prompt)
	}
	return head
}

func TestEmailReplyPrompt_NoTone(t *testing.T) {
	for _, tone := range []string{"", "   ", "\t\n"} {
		p := EmailReplyPrompt("Please send the tone report.", tone)
		if strings.Contains(instructionPart(t, p), "tone") {
			t.Errorf("tone %q: instruction should have no tone clause: %q", tone, p)
		}
	}
}

func TestEmailReplyPrompt_WithTone(t *testing.T) {
	tests := []struct {
		tone       string
		wantClause string
	}{
		{"formal", " Use a formal tone."},
		{"casual", " Use a casual tone."},
		{"  friendly  ", " Use a friendly tone."},
		{"warm but brief", " Use a warm but brief tone."},
	}

	for _, tt := range tests {
		t.Run(tt.tone, func(t *testing.T) {
			head := instructionPart(t, EmailReplyPrompt("Hi", tt.tone))
			if !strings.HasSuffix(head, tt.wantClause) {
				t.Errorf("instruction = %q, want suffix %q", head, tt.wantClause)
			}
			if strings.Contains(head, strings.TrimSpace(tt.tone)+"tone") {
				t.Errorf("tone runs into the word tone: %q", head)
			}
		})
	}
}

func TestEmailReplyPrompt_ContentVerbatim(t *testing.T) {
	contents := []string{
		"Can we reschedule?",
		"",
		"Line one\nLine two\n\n-- \nSig",
		`Quotes "and" <tags> & \backslashes\ {"json": true}`,
		strings.Repeat("long ", 10000),
		"Ünïcødé ✉️",
	}

	for _, c := range contents {
		p := EmailReplyPrompt(c, "formal")
		if !strings.HasSuffix(p, originalEmailSeparator+c) {
			t.Errorf("prompt does not end with verbatim content (len %d)", len(c))
		}
	}
}

func TestEmailReplyPrompt_Exact(t *testing.T) {
	got := EmailReplyPrompt("Can we reschedule?", "formal")
	want := "Generate a professional email reply for the following email content. " +
		"Please don't generate a subject line. Use a formal tone.\n" +
		"Original email:\nCan we reschedule?"
	if got != want {
		t.Errorf("EmailReplyPrompt() =\n%q\nwant\n%q", got, want)
	}
}

func TestEmailReplyPrompt_Deterministic(t *testing.T) {
	a := EmailReplyPrompt("same", "formal")
	b := EmailReplyPrompt("same", "formal")
	if a != b {
		t.Error("prompt construction should be deterministic")
	}
}
