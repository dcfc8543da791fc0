// Package export renders stored artifacts into the downloadable formats:
// merged markdown, FAQ tables and DOCX.
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opsdesk/pamphletd/internal/store"
	"github.com/opsdesk/pamphletd/internal/synth"
)

var ErrNothingToExport = errors.New("export: no artifacts to export")

func pagesHeader(missing []int) string {
	if len(missing) == 0 {
		return ""
	}
	nums := make([]string, len(missing))
	for i, p := range missing {
		nums[i] = fmt.Sprintf("%d", p)
	}
	return fmt.Sprintf("> Missing pages: %s\n\n", strings.Join(nums, ", "))
}

// MergedInstructions concatenates per-page instructions under page
// headers. Pages without an instruction are listed both in the returned
// slice and in a warning block at the top of the document, so a partial
// export declares itself.
func MergedInstructions(st *store.Store, docID string, pages int) (string, []int, error) {
	meta, err := st.ReadMeta(docID)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	var missing []int
	var body strings.Builder
	for p := 1; p <= pages; p++ {
		data, err := st.ReadPageArtifact(docID, p, store.InstructionFile)
		if err != nil {
			missing = append(missing, p)
			continue
		}
		text := strings.TrimSpace(string(data))
		fmt.Fprintf(&body, "## Page %03d\n\n%s\n\n", p, text)
	}

	fmt.Fprintf(&b, "# %s\n\n", meta.PamphletName)
	b.WriteString(pagesHeader(missing))
	b.WriteString(body.String())
	return b.String(), missing, nil
}

// FullInstruction prefers the incrementally folded document and falls
// back to the merged concatenation.
func FullInstruction(st *store.Store, docID string) (string, error) {
	if data, err := st.ReadDocArtifact(docID, store.IncrementalFile); err == nil {
		return string(data), nil
	}
	data, err := st.ReadDocArtifact(docID, store.MergedFile)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNothingToExport
		}
		return "", err
	}
	return string(data), nil
}

// FAQMarkdown concatenates the per-page FAQ files, with the same missing
// page reporting as the instruction export.
func FAQMarkdown(st *store.Store, docID string, pages int) (string, []int, error) {
	meta, err := st.ReadMeta(docID)
	if err != nil {
		return "", nil, err
	}

	var missing []int
	var body strings.Builder
	for p := 1; p <= pages; p++ {
		data, err := st.ReadPageArtifact(docID, p, store.FAQFile)
		if err != nil {
			missing = append(missing, p)
			continue
		}
		fmt.Fprintf(&body, "%s\n\n", strings.TrimSpace(string(data)))
	}
	if body.Len() == 0 {
		return "", missing, ErrNothingToExport
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# FAQ: %s\n\n", meta.PamphletName)
	b.WriteString(pagesHeader(missing))
	b.WriteString(body.String())
	return b.String(), missing, nil
}

// FAQRows parses every stored FAQ file back into blocks for tabular
// exports. Page order is preserved; malformed fragments are dropped by
// the parser.
func FAQRows(st *store.Store, docID string, pages int) ([]synth.FAQBlock, []int, error) {
	var rows []synth.FAQBlock
	var missing []int
	for p := 1; p <= pages; p++ {
		data, err := st.ReadPageArtifact(docID, p, store.FAQFile)
		if err != nil {
			missing = append(missing, p)
			continue
		}
		rows = append(rows, synth.ParseFAQBlocks(string(data))...)
	}
	if len(rows) == 0 {
		return nil, missing, ErrNothingToExport
	}
	return rows, missing, nil
}
