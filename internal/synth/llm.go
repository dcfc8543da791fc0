// Package synth holds the LLM-facing pipeline steps: per-page OCR and
// normalization, the incremental cross-page context fold, FAQ generation
// and the whole-document general instruction.
package synth

import (
	"context"

	"github.com/opsdesk/pamphletd/internal/gigachat"
)

// LLM is the slice of the gateway the synthesis steps need. Tests
// substitute a scripted implementation.
type LLM interface {
	Complete(ctx context.Context, system, user string, opts gigachat.CallOptions) (string, error)
	CompleteWithImage(ctx context.Context, system, user, imagePath string, opts gigachat.CallOptions) (gigachat.VisionResult, error)
}
