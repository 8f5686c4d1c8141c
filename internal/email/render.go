package email

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// RenderHTML renders a generated reply (plain text or light markdown)
// as a minimal HTML document suitable for pasting into a mail client.
// The output references no external resources.
func RenderHTML(reply string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(reply), &buf); err != nil {
		return "", fmt.Errorf("render reply: %w", err)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, buf.String()), nil
}
