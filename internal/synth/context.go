package synth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opsdesk/pamphletd/internal/gigachat"
)

// ErrFoldContract reports that a fold answer broke the accumulation
// contract: it dropped or rewrote previously tagged lines, or tagged new
// lines with the wrong page number.
var ErrFoldContract = errors.New("fold answer violates the accumulation contract")

var sourceTagRe = regexp.MustCompile(`(?i)\[SOURCE:\s*page\s*(\d{1,3})\s*\]`)

// PageTag renders the source tag appended to lines originating from the
// given page.
func PageTag(page int) string {
	return fmt.Sprintf("[SOURCE: page %03d]", page)
}

// TaggedLine is one accumulated line carrying a source tag.
type TaggedLine struct {
	Text string
	Page int
}

// TaggedLines extracts, in order, every line of s that carries a source
// tag. Lines are trimmed so cosmetic whitespace changes do not count as
// rewrites.
func TaggedLines(s string) []TaggedLine {
	var out []TaggedLine
	for _, line := range strings.Split(s, "\n") {
		m := sourceTagRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		page, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, TaggedLine{Text: strings.TrimSpace(line), Page: page})
	}
	return out
}

// VerifyFold checks next against acc for the fold of the given page:
// every tagged line of acc must survive in next, in the original order,
// and every tagged line new in next must carry the folded page's number.
func VerifyFold(acc, next string, page int) error {
	prev := TaggedLines(acc)
	got := TaggedLines(next)

	i := 0
	for _, line := range got {
		if i < len(prev) && line == prev[i] {
			i++
			continue
		}
		if line.Page != page {
			return fmt.Errorf("%w: unexpected line tagged for page %d during fold of page %d", ErrFoldContract, line.Page, page)
		}
	}
	if i < len(prev) {
		return fmt.Errorf("%w: %d previously tagged line(s) dropped or rewritten", ErrFoldContract, len(prev)-i)
	}
	return nil
}

// FoldPage appends one page's instruction to the accumulated context. An
// empty instruction folds trivially: the accumulated text is returned
// unchanged with no model call, so blank pages cannot stall the chain.
// The model's answer is verified before being accepted.
func FoldPage(ctx context.Context, llm LLM, acc string, page int, instruction string, opts gigachat.CallOptions) (string, error) {
	if strings.TrimSpace(instruction) == "" {
		return acc, nil
	}

	next, err := llm.Complete(ctx, foldSystemPrompt, foldUserPrompt(acc, page, instruction), opts)
	if err != nil {
		return "", err
	}
	next = strings.TrimSpace(next)
	if err := VerifyFold(acc, next, page); err != nil {
		return "", fmt.Errorf("page %d: %w", page, err)
	}
	return next, nil
}
