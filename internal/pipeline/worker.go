package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/opsdesk/pamphletd/internal/export"
	"github.com/opsdesk/pamphletd/internal/gigachat"
	"github.com/opsdesk/pamphletd/internal/store"
	"github.com/opsdesk/pamphletd/internal/synth"
)

func (o *Orchestrator) runJob(t task) error {
	for _, docID := range t.docIDs {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		var err error
		switch t.kind {
		case JobProcess:
			err = o.processDoc(t, docID)
		case JobFAQ:
			err = o.faqDoc(t, docID)
		default:
			err = fmt.Errorf("unknown job kind %q", t.kind)
		}
		if err != nil {
			return fmt.Errorf("document %s: %w", docID, err)
		}
	}
	return nil
}

// pageRecoverable reports whether an LLM call failed in a way local to
// one page: a rejected input or an upstream HTTP failure. Such errors
// are recorded against the page and the batch keeps going.
func pageRecoverable(err error) (string, bool) {
	var verr *gigachat.ValidationError
	if errors.As(err, &verr) {
		return verr.Msg, true
	}
	var serr *gigachat.StatusError
	if errors.As(err, &serr) {
		return serr.Error(), true
	}
	return "", false
}

// processDoc runs the per-page OCR and merge over one document, then the
// context fold. Pages that already carry an instruction are counted and
// skipped, so a restarted batch only pays for the remainder.
func (o *Orchestrator) processDoc(t task, docID string) error {
	pages := t.docPages(o, docID)

	// First page synthesized in this run; the fold restarts there so a
	// page that just got a fresh instruction re-enters the chain.
	firstNew := pages + 1
	for p := 1; p <= pages; p++ {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		if o.store.HasPageArtifact(docID, p, store.InstructionFile) {
			o.jobs.advance(t.jobID)
			continue
		}
		if p < firstNew {
			firstNew = p
		}
		if err := o.processPage(t.ctx, docID, p); err != nil {
			if msg, ok := pageRecoverable(err); ok {
				o.recordPageError(docID, p, "process", msg)
				o.jobs.advance(t.jobID)
				continue
			}
			return fmt.Errorf("page %d: %w", p, err)
		}
		o.jobs.advance(t.jobID)
	}

	if err := o.foldFrom(t.ctx, docID, pages, firstNew-1); err != nil {
		return err
	}

	merged, _, err := export.MergedInstructions(o.store, docID, pages)
	if err != nil {
		return err
	}
	return o.store.WriteDocArtifact(docID, store.MergedFile, []byte(merged))
}

// processPage runs OCR and merge for one page and records the artifacts
// and token delta. It always regenerates.
func (o *Orchestrator) processPage(ctx context.Context, docID string, p int) error {
	meta, err := o.store.ReadMeta(docID)
	if err != nil {
		return err
	}
	layer, err := o.store.ReadPageArtifact(docID, p, store.PageTextFile)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	imagePath := filepath.Join(o.store.PageDir(docID, p), store.PageImageFile)

	before := o.usage.Snapshot()
	res, err := synth.SynthesizePage(ctx, o.llm, imagePath, string(layer), callOptions(meta))
	if err != nil {
		return err
	}
	delta := o.usage.Snapshot().Sub(before)

	if err := o.store.WritePageArtifact(docID, p, store.OCRFile, []byte(res.OCR)); err != nil {
		return err
	}
	if err := o.store.WritePageArtifact(docID, p, store.InstructionFile, []byte(res.Instruction)); err != nil {
		return err
	}

	if _, err := o.store.UpdateMeta(docID, func(m *store.Meta) {
		m.Tokens = m.Tokens.Add(delta)
		m.LastOp = &store.LastOp{Op: "process", Page: p, At: time.Now().UTC()}
		if res.Degraded {
			m.LastError = fmt.Sprintf("page %d: %s", p, shorten(res.OCR, 300))
		}
	}); err != nil {
		return err
	}
	if res.Degraded {
		o.log.Warn("page degraded", "doc_id", docID, "page", p)
	}
	return nil
}

// ProcessPage regenerates one page's OCR and instruction, then refolds
// the chain from that page on so the accumulated context picks up the
// new text. The review UI calls this for a single bad page.
func (o *Orchestrator) ProcessPage(ctx context.Context, docID string, p int) error {
	if err := o.processPage(ctx, docID, p); err != nil {
		return err
	}
	meta, err := o.store.ReadMeta(docID)
	if err != nil {
		return err
	}
	return o.foldFrom(ctx, docID, meta.Pages, p-1)
}

// foldFrom resumes the incremental context from the last contiguously
// folded page, clamped to maxStart so a freshly re-run page is folded
// again on top of its predecessor's context. A page without an
// instruction carries the accumulator forward unchanged and the chain
// keeps moving; only a failing fold call stalls it for a later run.
func (o *Orchestrator) foldFrom(ctx context.Context, docID string, pages, maxStart int) error {
	meta, err := o.store.ReadMeta(docID)
	if err != nil {
		return err
	}
	start := o.store.LastFoldedPage(docID, pages)
	if start > maxStart {
		start = maxStart
	}
	if start < 0 {
		start = 0
	}
	acc := ""
	if start > 0 {
		data, err := o.store.ReadPageArtifact(docID, start, store.ContextFile)
		if err != nil {
			return fmt.Errorf("resume fold at page %d: %w", start, err)
		}
		acc = string(data)
	}

	for p := start + 1; p <= pages; p++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		inst, err := o.store.ReadPageArtifact(docID, p, store.InstructionFile)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if werr := o.store.WritePageArtifact(docID, p, store.ContextFile, []byte(acc)); werr != nil {
				return werr
			}
			continue
		}

		before := o.usage.Snapshot()
		next, err := synth.FoldPage(ctx, o.llm, acc, p, string(inst), callOptions(meta))
		if err != nil {
			if errors.Is(err, synth.ErrFoldContract) {
				o.recordPageError(docID, p, "fold", err.Error())
				break
			}
			if msg, ok := pageRecoverable(err); ok {
				o.recordPageError(docID, p, "fold", msg)
				break
			}
			return fmt.Errorf("fold page %d: %w", p, err)
		}
		delta := o.usage.Snapshot().Sub(before)

		if err := o.store.WritePageArtifact(docID, p, store.ContextFile, []byte(next)); err != nil {
			return err
		}
		if _, err := o.store.UpdateMeta(docID, func(m *store.Meta) {
			m.Tokens = m.Tokens.Add(delta)
			m.LastOp = &store.LastOp{Op: "fold", Page: p, At: time.Now().UTC()}
		}); err != nil {
			return err
		}
		acc = next
	}

	if strings.TrimSpace(acc) != "" {
		return o.store.WriteDocArtifact(docID, store.IncrementalFile, []byte(acc))
	}
	return nil
}

// faqContext prefers the folded incremental document, which already
// carries the page tags, over a plain concatenation of instructions.
func (o *Orchestrator) faqContext(docID string, pages []synth.PageText) string {
	if data, err := o.store.ReadDocArtifact(docID, store.IncrementalFile); err == nil {
		return synth.ClampContext(string(data), o.opts.FAQContextChars)
	}
	return synth.BuildDocContext(pages, o.opts.FAQContextChars)
}

// faqDoc generates a FAQ file per page. Pages without an instruction are
// recorded and skipped; pages with an existing FAQ are counted as done.
func (o *Orchestrator) faqDoc(t task, docID string) error {
	meta, err := o.store.ReadMeta(docID)
	if err != nil {
		return err
	}
	pages := t.docPages(o, docID)

	var pageTexts []synth.PageText
	for p := 1; p <= pages; p++ {
		data, err := o.store.ReadPageArtifact(docID, p, store.InstructionFile)
		if err != nil {
			continue
		}
		pageTexts = append(pageTexts, synth.PageText{Num: p, Text: string(data)})
	}
	docCtx := o.faqContext(docID, pageTexts)

	byPage := make(map[int]string, len(pageTexts))
	for _, pt := range pageTexts {
		byPage[pt.Num] = pt.Text
	}

	for p := 1; p <= pages; p++ {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		text, ok := byPage[p]
		if !ok {
			o.recordPageError(docID, p, "faq", "no instruction for page, run processing first")
			o.jobs.advance(t.jobID)
			continue
		}
		if o.store.HasPageArtifact(docID, p, store.FAQFile) {
			o.jobs.advance(t.jobID)
			continue
		}
		if strings.TrimSpace(text) == "" {
			o.jobs.advance(t.jobID)
			continue
		}

		opts := callOptions(meta)
		opts.MaxTokens = o.opts.FAQOutputTokens
		if err := o.faqPage(t.ctx, docID, meta.PamphletName, synth.PageText{Num: p, Text: text}, docCtx, opts); err != nil {
			if msg, ok := pageRecoverable(err); ok {
				o.recordPageError(docID, p, "faq", msg)
				o.jobs.advance(t.jobID)
				continue
			}
			return fmt.Errorf("faq page %d: %w", p, err)
		}
		o.jobs.advance(t.jobID)
	}
	return nil
}

func (o *Orchestrator) faqPage(ctx context.Context, docID, pamphletName string, page synth.PageText, docCtx string, opts gigachat.CallOptions) error {
	before := o.usage.Snapshot()
	raw, err := synth.SynthesizeFAQ(ctx, o.llm, pamphletName, page, docCtx, opts)
	if err != nil {
		return err
	}
	delta := o.usage.Snapshot().Sub(before)

	if err := o.store.WritePageArtifact(docID, page.Num, store.FAQFile, []byte(raw)); err != nil {
		return err
	}
	_, err = o.store.UpdateMeta(docID, func(m *store.Meta) {
		m.Tokens = m.Tokens.Add(delta)
		m.LastOp = &store.LastOp{Op: "faq", Page: page.Num, At: time.Now().UTC()}
	})
	return err
}

// FAQPage regenerates the FAQ for a single page, building the document
// context from whatever instructions exist right now.
func (o *Orchestrator) FAQPage(ctx context.Context, docID string, p int) error {
	meta, err := o.store.ReadMeta(docID)
	if err != nil {
		return err
	}
	inst, err := o.store.ReadPageArtifact(docID, p, store.InstructionFile)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("page %d: %w", p, ErrNoInstruction)
		}
		return err
	}

	var pageTexts []synth.PageText
	for n := 1; n <= meta.Pages; n++ {
		data, err := o.store.ReadPageArtifact(docID, n, store.InstructionFile)
		if err != nil {
			continue
		}
		pageTexts = append(pageTexts, synth.PageText{Num: n, Text: string(data)})
	}
	docCtx := o.faqContext(docID, pageTexts)
	opts := callOptions(meta)
	opts.MaxTokens = o.opts.FAQOutputTokens
	return o.faqPage(ctx, docID, meta.PamphletName, synth.PageText{Num: p, Text: string(inst)}, docCtx, opts)
}

// callOptions maps a document's pinned model settings onto a call. Zero
// values fall back to the client defaults.
func callOptions(meta *store.Meta) gigachat.CallOptions {
	opts := gigachat.CallOptions{Model: meta.Model}
	if meta.Temperature != 0 {
		t := meta.Temperature
		opts.Temperature = &t
	}
	return opts
}

func (o *Orchestrator) recordPageError(docID string, page int, op, msg string) {
	if _, err := o.store.UpdateMeta(docID, func(m *store.Meta) {
		m.LastOp = &store.LastOp{Op: op, Page: page, At: time.Now().UTC()}
		m.LastError = fmt.Sprintf("page %d: %s", page, shorten(msg, 300))
	}); err != nil {
		o.log.Error("record page error", "doc_id", docID, "page", page, "error", err)
	}
	o.log.Warn("page error", "doc_id", docID, "page", page, "op", op, "msg", msg)
}

// docPages returns the page count frozen for this job, falling back to
// the live meta if the job entry is already gone.
func (t task) docPages(o *Orchestrator, docID string) int {
	if job, ok := o.jobs.Get(t.jobID); ok {
		if n := job.DocPages[docID]; n > 0 {
			return n
		}
	}
	meta, err := o.store.ReadMeta(docID)
	if err != nil {
		return 0
	}
	return meta.Pages
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
