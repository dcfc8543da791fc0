package synth

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/opsdesk/pamphletd/internal/gigachat"
)

// PageText pairs a 1-based page number with its instruction text.
type PageText struct {
	Num  int
	Text string
}

// FAQBlock is one parsed entry from a generated FAQ answer.
type FAQBlock struct {
	Question string
	Answer   string
	Source   string
}

var faqBlockRe = regexp.MustCompile(`(?is)QUESTION:\s*(.*?)(?:\r?\n)+(?:ANSWER|INSTRUCTION):\s*(.*?)(?:\r?\n)+\[SOURCE\s*-\s*"(.*?)"\]`)

// ParseFAQBlocks extracts every well-formed block from a generated
// answer. Malformed fragments between blocks are dropped, and a block
// only counts when question, answer and source are all non-empty after
// trimming. An empty field also means the lazy match may have swallowed
// neighbouring text, so such a block is never worth keeping.
func ParseFAQBlocks(text string) []FAQBlock {
	var blocks []FAQBlock
	for _, m := range faqBlockRe.FindAllStringSubmatch(text, -1) {
		b := FAQBlock{
			Question: strings.TrimSpace(m[1]),
			Answer:   strings.TrimSpace(m[2]),
			Source:   strings.TrimSpace(m[3]),
		}
		if b.Question == "" || b.Answer == "" || b.Source == "" {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// SourceRef renders the reference written into each block's SOURCE line.
func SourceRef(pamphletName string, page int) string {
	return fmt.Sprintf("%s - %03d", pamphletName, page)
}

const truncationMarker = "[...TRUNCATED...]"

// BuildDocContext concatenates per-page instructions into the document
// context handed to FAQ generation, cut at maxChars with an explicit
// truncation marker.
func BuildDocContext(pages []PageText, maxChars int) string {
	var b strings.Builder
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		fmt.Fprintf(&b, "## Page %03d\n\n%s\n\n", p.Num, strings.TrimSpace(p.Text))
	}
	return ClampContext(b.String(), maxChars)
}

// ClampContext cuts a document context at maxChars with an explicit
// truncation marker. maxChars <= 0 disables the cut.
func ClampContext(s string, maxChars int) string {
	if maxChars > 0 && len(s) > maxChars {
		cut := maxChars
		// Cut on a rune boundary.
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "\n" + truncationMarker + "\n"
	}
	return s
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// SynthesizeFAQ generates FAQ entries for one page. The raw answer is
// returned so it can be stored verbatim; exports re-parse it with
// ParseFAQBlocks.
func SynthesizeFAQ(ctx context.Context, llm LLM, pamphletName string, page PageText, docContext string, opts gigachat.CallOptions) (string, error) {
	ref := SourceRef(pamphletName, page.Num)
	answer, err := llm.Complete(ctx, faqSystemPrompt, faqUserPrompt(ref, page.Text, docContext), opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}
