package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"
)

// InstructionDocx renders a markdown instruction as a flat DOCX: headings
// become larger runs, everything else becomes plain paragraphs. Inline
// markdown is left as-is; operators read these documents in Word where
// the page structure matters more than rich styling.
func InstructionDocx(title, markdown string) (*bytes.Buffer, error) {
	w := docx.New().WithDefaultTheme()

	w.AddParagraph().AddText(title).Size("32")
	w.AddParagraph()

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			w.AddParagraph()
		case strings.HasPrefix(trimmed, "## "):
			w.AddParagraph().AddText(strings.TrimPrefix(trimmed, "## ")).Size("28")
		case strings.HasPrefix(trimmed, "# "):
			w.AddParagraph().AddText(strings.TrimPrefix(trimmed, "# ")).Size("30")
		default:
			w.AddParagraph().AddText(trimmed).Size("22")
		}
	}

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}
	return &buf, nil
}
