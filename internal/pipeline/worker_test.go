package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opsdesk/pamphletd/internal/gigachat"
	"github.com/opsdesk/pamphletd/internal/store"
	"github.com/opsdesk/pamphletd/internal/synth"
)

var (
	pagePathRe  = regexp.MustCompile(`page_(\d{3})`)
	foldPageRe  = regexp.MustCompile(`Instruction for page (\d+)`)
	foldAccRe   = regexp.MustCompile(`(?s)Accumulated text so far:\n---\n(.*?)\n---`)
	foldInstRe  = regexp.MustCompile(`(?s)\(tag new lines with [^)]*\):\n---\n(.*?)\n---`)
	sourceRefRe = regexp.MustCompile(`Source reference: (.+)`)
	layerTextRe = regexp.MustCompile(`(?s)PDF text layer of the same page:\n---\n(.*?)\n---`)
)

// scriptedLLM answers like the real model would: OCR per page, merges
// that echo the text layer, contract-honoring folds rebuilt from the
// prompt and well-formed FAQ blocks. Failure maps let a test break a
// single page's call.
type scriptedLLM struct {
	mu           sync.Mutex
	visionCalls  int
	degradePages map[int]bool
	visionErrs   map[int]error
	failFoldPage int
	failFAQPage  int
	lastFAQUser  string
}

func (s *scriptedLLM) CompleteWithImage(_ context.Context, _, _ string, imagePath string, _ gigachat.CallOptions) (gigachat.VisionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visionCalls++
	page := 0
	if m := pagePathRe.FindStringSubmatch(imagePath); m != nil {
		page, _ = strconv.Atoi(m[1])
	}
	if err := s.visionErrs[page]; err != nil {
		return gigachat.VisionResult{}, err
	}
	if s.degradePages[page] {
		return gigachat.VisionResult{
			Text:     "GigaChat error: HTTP 413 Request Entity Too Large.",
			Degraded: true,
		}, nil
	}
	return gigachat.VisionResult{Text: fmt.Sprintf("ocr for page %d", page)}, nil
}

func (s *scriptedLLM) Complete(_ context.Context, _, user string, _ gigachat.CallOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := foldPageRe.FindStringSubmatch(user); m != nil {
		page, _ := strconv.Atoi(m[1])
		if page == s.failFoldPage {
			return "", &gigachat.StatusError{StatusCode: 500, Body: "upstream exploded"}
		}
		acc := ""
		if am := foldAccRe.FindStringSubmatch(user); am != nil {
			acc = strings.TrimSpace(am[1])
		}
		inst := ""
		if im := foldInstRe.FindStringSubmatch(user); im != nil {
			inst = strings.TrimSpace(im[1])
		}
		line := fmt.Sprintf("%s %s", inst, synth.PageTag(page))
		if acc == "" {
			return line, nil
		}
		return acc + "\n" + line, nil
	}
	if m := sourceRefRe.FindStringSubmatch(user); m != nil {
		ref := strings.TrimSpace(m[1])
		if n := refPage(ref); n != 0 && n == s.failFAQPage {
			return "", &gigachat.StatusError{StatusCode: 502, Body: "bad gateway"}
		}
		s.lastFAQUser = user
		return fmt.Sprintf("QUESTION: what about it?\nANSWER: see the page.\n[SOURCE - %q]", ref), nil
	}
	if m := layerTextRe.FindStringSubmatch(user); m != nil {
		return "instruction from " + strings.TrimSpace(m[1]), nil
	}
	return "stub answer", nil
}

func (s *scriptedLLM) faqUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFAQUser
}

func refPage(ref string) int {
	i := strings.LastIndex(ref, " - ")
	if i < 0 {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimLeft(ref[i+3:], "0"))
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedDoc(t *testing.T, st *store.Store, pages int) string {
	t.Helper()
	meta, err := st.CreateDocument("fx-guide.pdf", "", []byte("%PDF"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpdateMeta(meta.DocID, func(m *store.Meta) { m.Pages = pages }); err != nil {
		t.Fatal(err)
	}
	for p := 1; p <= pages; p++ {
		if err := st.WritePageArtifact(meta.DocID, p, store.PageTextFile, []byte(fmt.Sprintf("layer text page %d", p))); err != nil {
			t.Fatal(err)
		}
		if err := st.WritePageArtifact(meta.DocID, p, store.PageImageFile, []byte("jpg")); err != nil {
			t.Fatal(err)
		}
	}
	return meta.DocID
}

func newTestOrchestrator(t *testing.T, llm synth.LLM) (*Orchestrator, *store.Store, context.CancelFunc) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	o := NewOrchestrator(st, llm, nil, Options{
		Workers:         1,
		QueueSize:       4,
		FAQContextChars: 12000,
	}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)
	t.Cleanup(cancel)
	return o, st, cancel
}

func waitJob(t *testing.T, o *Orchestrator, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := o.Job(id); ok && j.terminal() {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return Job{}
}

func TestProcessJobWithDegradedPage(t *testing.T) {
	llm := &scriptedLLM{degradePages: map[int]bool{2: true}}
	o, st, _ := newTestOrchestrator(t, llm)
	docID := seedDoc(t, st, 3)

	job, err := o.Submit(context.Background(), JobProcess, []string{docID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := waitJob(t, o, job.ID)

	if got.Status != StatusDone {
		t.Fatalf("status = %s, error = %s", got.Status, got.Error)
	}
	if got.Done != 3 || got.Total != 3 {
		t.Errorf("progress = %d/%d", got.Done, got.Total)
	}

	for p := 1; p <= 3; p++ {
		if !st.HasPageArtifact(docID, p, store.InstructionFile) {
			t.Errorf("page %d has no instruction", p)
		}
		if !st.HasPageArtifact(docID, p, store.ContextFile) {
			t.Errorf("page %d has no folded context", p)
		}
	}

	meta, err := st.ReadMeta(docID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(meta.LastError, "page 2") {
		t.Errorf("last error = %q, want the degraded page recorded", meta.LastError)
	}

	// Degraded OCR text is preserved as the page's OCR artifact.
	ocr, err := st.ReadPageArtifact(docID, 2, store.OCRFile)
	if err != nil || !strings.Contains(string(ocr), "413") {
		t.Errorf("page 2 ocr = %q, err %v", ocr, err)
	}

	if !st.HasDocArtifact(docID, store.IncrementalFile) {
		t.Error("no incremental instruction written")
	}
	if !st.HasDocArtifact(docID, store.MergedFile) {
		t.Error("no merged instruction written")
	}
	inc, _ := st.ReadDocArtifact(docID, store.IncrementalFile)
	for p := 1; p <= 3; p++ {
		if !strings.Contains(string(inc), synth.PageTag(p)) {
			t.Errorf("incremental missing tag for page %d", p)
		}
	}
}

func TestProcessJobContinuesPastTransportError(t *testing.T) {
	llm := &scriptedLLM{visionErrs: map[int]error{
		2: &gigachat.StatusError{StatusCode: 500, Body: "upstream exploded"},
	}}
	o, st, _ := newTestOrchestrator(t, llm)
	docID := seedDoc(t, st, 3)

	job, err := o.Submit(context.Background(), JobProcess, []string{docID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := waitJob(t, o, job.ID)

	if got.Status != StatusDone {
		t.Fatalf("status = %s, error = %s, want done despite the HTTP failure", got.Status, got.Error)
	}
	if got.Done != 3 || got.Total != 3 {
		t.Errorf("progress = %d/%d", got.Done, got.Total)
	}

	for _, p := range []int{1, 3} {
		if !st.HasPageArtifact(docID, p, store.InstructionFile) {
			t.Errorf("page %d has no instruction", p)
		}
	}
	if st.HasPageArtifact(docID, 2, store.InstructionFile) {
		t.Error("failed page should have no instruction")
	}

	meta, _ := st.ReadMeta(docID)
	if !strings.Contains(meta.LastError, "page 2") || !strings.Contains(meta.LastError, "500") {
		t.Errorf("last error = %q", meta.LastError)
	}

	inc, _ := st.ReadDocArtifact(docID, store.IncrementalFile)
	if !strings.Contains(string(inc), synth.PageTag(1)) || !strings.Contains(string(inc), synth.PageTag(3)) {
		t.Errorf("incremental = %q, want pages 1 and 3 folded around the gap", inc)
	}
	if strings.Contains(string(inc), synth.PageTag(2)) {
		t.Error("failed page leaked into the incremental context")
	}
	if !st.HasDocArtifact(docID, store.MergedFile) {
		t.Error("no merged instruction written")
	}
}

func TestProcessJobResumesFromExistingInstructions(t *testing.T) {
	llm := &scriptedLLM{}
	o, st, _ := newTestOrchestrator(t, llm)
	docID := seedDoc(t, st, 3)
	if err := st.WritePageArtifact(docID, 1, store.InstructionFile, []byte("already done")); err != nil {
		t.Fatal(err)
	}

	job, err := o.Submit(context.Background(), JobProcess, []string{docID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := waitJob(t, o, job.ID)
	if got.Status != StatusDone || got.Done != 3 {
		t.Fatalf("job = %+v", got)
	}
	if llm.visionCalls != 2 {
		t.Errorf("vision calls = %d, want 2 (page 1 skipped)", llm.visionCalls)
	}
}

func TestFoldCarriesPastMissingInstruction(t *testing.T) {
	llm := &scriptedLLM{}
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	o := NewOrchestrator(st, llm, nil, Options{Workers: 1}, testLogger())
	docID := seedDoc(t, st, 3)
	if err := st.WritePageArtifact(docID, 1, store.InstructionFile, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := st.WritePageArtifact(docID, 3, store.InstructionFile, []byte("third")); err != nil {
		t.Fatal(err)
	}

	if err := o.foldFrom(context.Background(), docID, 3, 3); err != nil {
		t.Fatalf("foldFrom: %v", err)
	}
	if st.LastFoldedPage(docID, 3) != 3 {
		t.Errorf("LastFoldedPage = %d, want 3", st.LastFoldedPage(docID, 3))
	}

	ctx1, _ := st.ReadPageArtifact(docID, 1, store.ContextFile)
	ctx2, _ := st.ReadPageArtifact(docID, 2, store.ContextFile)
	if string(ctx1) != string(ctx2) {
		t.Errorf("missing page should carry the accumulator unchanged: %q vs %q", ctx1, ctx2)
	}

	inc, _ := st.ReadDocArtifact(docID, store.IncrementalFile)
	if !strings.Contains(string(inc), synth.PageTag(1)) || !strings.Contains(string(inc), synth.PageTag(3)) {
		t.Errorf("incremental = %q, want pages 1 and 3", inc)
	}
	if strings.Contains(string(inc), synth.PageTag(2)) {
		t.Error("page 2 has no instruction yet its tag appeared")
	}
}

func TestFoldStallsOnTransportError(t *testing.T) {
	llm := &scriptedLLM{failFoldPage: 2}
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	o := NewOrchestrator(st, llm, nil, Options{Workers: 1}, testLogger())
	docID := seedDoc(t, st, 3)
	for p := 1; p <= 3; p++ {
		if err := st.WritePageArtifact(docID, p, store.InstructionFile, []byte(fmt.Sprintf("step %d", p))); err != nil {
			t.Fatal(err)
		}
	}

	if err := o.foldFrom(context.Background(), docID, 3, 3); err != nil {
		t.Fatalf("foldFrom: %v", err)
	}
	if st.LastFoldedPage(docID, 3) != 1 {
		t.Errorf("LastFoldedPage = %d, want the chain stalled at 1", st.LastFoldedPage(docID, 3))
	}
	if st.HasPageArtifact(docID, 3, store.ContextFile) {
		t.Error("fold should not jump past the failing page")
	}
	meta, _ := st.ReadMeta(docID)
	if !strings.Contains(meta.LastError, "page 2") || !strings.Contains(meta.LastError, "500") {
		t.Errorf("last error = %q", meta.LastError)
	}
}

func TestProcessPageRefoldsChain(t *testing.T) {
	llm := &scriptedLLM{}
	o, st, _ := newTestOrchestrator(t, llm)
	docID := seedDoc(t, st, 3)

	job, err := o.Submit(context.Background(), JobProcess, []string{docID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := waitJob(t, o, job.ID); got.Status != StatusDone {
		t.Fatalf("job = %+v", got)
	}

	// Revise the page and re-run it the way the review UI does.
	if err := st.WritePageArtifact(docID, 2, store.PageTextFile, []byte("revised layer page 2")); err != nil {
		t.Fatal(err)
	}
	if err := o.ProcessPage(context.Background(), docID, 2); err != nil {
		t.Fatalf("ProcessPage: %v", err)
	}

	inc, _ := st.ReadDocArtifact(docID, store.IncrementalFile)
	if !strings.Contains(string(inc), "revised layer page 2") {
		t.Errorf("incremental = %q, want the re-run page folded in", inc)
	}
	if strings.Contains(string(inc), "layer text page 2") {
		t.Error("stale page 2 line survived the re-run")
	}
	ctx3, _ := st.ReadPageArtifact(docID, 3, store.ContextFile)
	if !strings.Contains(string(ctx3), "revised layer page 2") {
		t.Error("page 3 context was not refolded on top of the new page 2")
	}
}

func TestFAQJobSkipsPagesWithoutInstruction(t *testing.T) {
	llm := &scriptedLLM{}
	o, st, _ := newTestOrchestrator(t, llm)
	docID := seedDoc(t, st, 3)
	if err := st.WritePageArtifact(docID, 1, store.InstructionFile, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := st.WritePageArtifact(docID, 3, store.InstructionFile, []byte("third")); err != nil {
		t.Fatal(err)
	}

	job, err := o.Submit(context.Background(), JobFAQ, []string{docID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := waitJob(t, o, job.ID)
	if got.Status != StatusDone || got.Done != 3 {
		t.Fatalf("job = %+v", got)
	}

	if !st.HasPageArtifact(docID, 1, store.FAQFile) || !st.HasPageArtifact(docID, 3, store.FAQFile) {
		t.Error("faq files missing for processed pages")
	}
	if st.HasPageArtifact(docID, 2, store.FAQFile) {
		t.Error("faq generated for a page without instruction")
	}
	meta, _ := st.ReadMeta(docID)
	if !strings.Contains(meta.LastError, "page 2") {
		t.Errorf("last error = %q", meta.LastError)
	}

	faq, _ := st.ReadPageArtifact(docID, 1, store.FAQFile)
	blocks := synth.ParseFAQBlocks(string(faq))
	if len(blocks) != 1 || blocks[0].Source != "fx-guide - 001" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestFAQJobContinuesPastTransportError(t *testing.T) {
	llm := &scriptedLLM{failFAQPage: 2}
	o, st, _ := newTestOrchestrator(t, llm)
	docID := seedDoc(t, st, 3)
	for p := 1; p <= 3; p++ {
		if err := st.WritePageArtifact(docID, p, store.InstructionFile, []byte(fmt.Sprintf("step %d", p))); err != nil {
			t.Fatal(err)
		}
	}

	job, err := o.Submit(context.Background(), JobFAQ, []string{docID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := waitJob(t, o, job.ID)
	if got.Status != StatusDone || got.Done != 3 {
		t.Fatalf("job = %+v, want done despite the HTTP failure", got)
	}

	if !st.HasPageArtifact(docID, 1, store.FAQFile) || !st.HasPageArtifact(docID, 3, store.FAQFile) {
		t.Error("faq files missing for the healthy pages")
	}
	if st.HasPageArtifact(docID, 2, store.FAQFile) {
		t.Error("faq written for the failed page")
	}
	meta, _ := st.ReadMeta(docID)
	if !strings.Contains(meta.LastError, "page 2") || !strings.Contains(meta.LastError, "502") {
		t.Errorf("last error = %q", meta.LastError)
	}
}

func TestFAQUsesIncrementalContext(t *testing.T) {
	llm := &scriptedLLM{}
	o, st, _ := newTestOrchestrator(t, llm)
	docID := seedDoc(t, st, 1)
	if err := st.WritePageArtifact(docID, 1, store.InstructionFile, []byte("first")); err != nil {
		t.Fatal(err)
	}
	folded := "first fold line. " + synth.PageTag(1)
	if err := st.WriteDocArtifact(docID, store.IncrementalFile, []byte(folded)); err != nil {
		t.Fatal(err)
	}

	job, err := o.Submit(context.Background(), JobFAQ, []string{docID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := waitJob(t, o, job.ID); got.Status != StatusDone {
		t.Fatalf("job = %+v", got)
	}

	if user := llm.faqUser(); !strings.Contains(user, folded) {
		t.Errorf("faq prompt = %q, want the folded document as context", user)
	}
}

func TestSubmitRejectsUnextractedDocument(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, &scriptedLLM{})
	meta, err := st.CreateDocument("fresh.pdf", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Submit(context.Background(), JobProcess, []string{meta.DocID}); !errors.Is(err, ErrNotExtracted) {
		t.Fatalf("want ErrNotExtracted, got %v", err)
	}
}

func TestSubmitRejectsUnknownDocument(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &scriptedLLM{})
	if _, err := o.Submit(context.Background(), JobProcess, []string{"nope"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCallOptionsFromMeta(t *testing.T) {
	opts := callOptions(&store.Meta{})
	if opts.Model != "" || opts.Temperature != nil {
		t.Errorf("zero meta should give zero options, got %+v", opts)
	}

	opts = callOptions(&store.Meta{Model: "GigaChat-2-Max", Temperature: 0.7})
	if opts.Model != "GigaChat-2-Max" {
		t.Errorf("model = %q", opts.Model)
	}
	if opts.Temperature == nil || *opts.Temperature != 0.7 {
		t.Errorf("temperature = %v", opts.Temperature)
	}
}
