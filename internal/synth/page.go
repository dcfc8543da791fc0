package synth

import (
	"context"
	"strings"

	"github.com/opsdesk/pamphletd/internal/gigachat"
)

// PageResult is the outcome of processing one page. Degraded means the
// vision pass could not read the image; OCR then carries the descriptive
// message and the instruction is built from the text layer alone.
type PageResult struct {
	OCR         string
	Instruction string
	Degraded    bool
}

// SynthesizePage runs the vision OCR over the page image and merges the
// transcript with the embedded text layer into a normalized instruction.
// A degraded vision answer does not abort the page: the merge falls back
// to the text layer so the batch keeps moving. opts carries the
// per-document model override chosen at upload time.
func SynthesizePage(ctx context.Context, llm LLM, imagePath, layerText string, opts gigachat.CallOptions) (PageResult, error) {
	vr, err := llm.CompleteWithImage(ctx, ocrSystemPrompt, ocrUserPrompt, imagePath, opts)
	if err != nil {
		return PageResult{}, err
	}

	res := PageResult{OCR: vr.Text, Degraded: vr.Degraded}

	ocrForMerge := vr.Text
	if vr.Degraded {
		ocrForMerge = ""
	}
	if strings.TrimSpace(ocrForMerge) == "" && strings.TrimSpace(layerText) == "" {
		// Nothing readable on this page at all.
		res.Instruction = ""
		return res, nil
	}

	instruction, err := llm.Complete(ctx, mergeSystemPrompt, mergeUserPrompt(ocrForMerge, layerText), opts)
	if err != nil {
		return PageResult{}, err
	}
	res.Instruction = strings.TrimSpace(instruction)
	return res, nil
}
