package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsdesk/pamphletd/internal/gigachat"
)

// BatchPages groups per-page instructions into batches whose rendered
// size stays under maxChars. A single oversized page still forms its own
// batch rather than being dropped.
func BatchPages(pages []PageText, maxChars int) [][]PageText {
	var batches [][]PageText
	var cur []PageText
	size := 0
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		n := len(p.Text) + 32
		if len(cur) > 0 && maxChars > 0 && size+n > maxChars {
			batches = append(batches, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, p)
		size += n
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func renderBatch(batch []PageText) string {
	var b strings.Builder
	for _, p := range batch {
		fmt.Fprintf(&b, "## Page %03d\n\n%s\n\n", p.Num, strings.TrimSpace(p.Text))
	}
	return b.String()
}

// SynthesizeGeneral builds the whole-document general instruction: one
// draft per page batch, then a merge pass when more than one draft came
// out. With a single batch the draft is the final document.
func SynthesizeGeneral(ctx context.Context, llm LLM, pages []PageText, batchChars int, opts gigachat.CallOptions) (string, error) {
	batches := BatchPages(pages, batchChars)
	if len(batches) == 0 {
		return "", fmt.Errorf("no page instructions to merge")
	}

	var drafts []string
	for _, batch := range batches {
		draft, err := llm.Complete(ctx, generalDraftSystemPrompt, generalDraftUserPrompt(renderBatch(batch)), opts)
		if err != nil {
			return "", fmt.Errorf("draft pages %d-%d: %w", batch[0].Num, batch[len(batch)-1].Num, err)
		}
		drafts = append(drafts, strings.TrimSpace(draft))
	}
	if len(drafts) == 1 {
		return drafts[0], nil
	}

	final, err := llm.Complete(ctx, generalMergeSystemPrompt, generalMergeUserPrompt(drafts), opts)
	if err != nil {
		return "", fmt.Errorf("merge drafts: %w", err)
	}
	return strings.TrimSpace(final), nil
}
