package export

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/opsdesk/pamphletd/internal/store"
)

func seedDoc(t *testing.T) (*store.Store, string) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	meta, err := st.CreateDocument("fx-guide.pdf", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpdateMeta(meta.DocID, func(m *store.Meta) { m.Pages = 3 }); err != nil {
		t.Fatal(err)
	}
	return st, meta.DocID
}

func TestMergedInstructionsReportsMissingPages(t *testing.T) {
	st, docID := seedDoc(t)
	if err := st.WritePageArtifact(docID, 1, store.InstructionFile, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := st.WritePageArtifact(docID, 3, store.InstructionFile, []byte("third")); err != nil {
		t.Fatal(err)
	}

	content, missing, err := MergedInstructions(st, docID, 3)
	if err != nil {
		t.Fatalf("MergedInstructions: %v", err)
	}
	if !reflect.DeepEqual(missing, []int{2}) {
		t.Errorf("missing = %v, want [2]", missing)
	}
	if !strings.Contains(content, "> Missing pages: 2") {
		t.Errorf("no warning block in %q", content)
	}
	if !strings.Contains(content, "## Page 001") || !strings.Contains(content, "## Page 003") {
		t.Errorf("page sections missing in %q", content)
	}
	if !strings.Contains(content, "# fx-guide") {
		t.Errorf("title missing in %q", content)
	}
}

func TestFullInstructionPrefersIncremental(t *testing.T) {
	st, docID := seedDoc(t)
	if err := st.WriteDocArtifact(docID, store.MergedFile, []byte("merged")); err != nil {
		t.Fatal(err)
	}
	got, err := FullInstruction(st, docID)
	if err != nil || got != "merged" {
		t.Fatalf("FullInstruction = %q, %v", got, err)
	}

	if err := st.WriteDocArtifact(docID, store.IncrementalFile, []byte("incremental")); err != nil {
		t.Fatal(err)
	}
	got, err = FullInstruction(st, docID)
	if err != nil || got != "incremental" {
		t.Fatalf("FullInstruction = %q, %v", got, err)
	}
}

func TestFullInstructionNothingToExport(t *testing.T) {
	st, docID := seedDoc(t)
	if _, err := FullInstruction(st, docID); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("want ErrNothingToExport, got %v", err)
	}
}

func TestFAQRows(t *testing.T) {
	st, docID := seedDoc(t)
	faq := "QUESTION: q1\nANSWER: a1\n[SOURCE - \"fx-guide - 001\"]\n\nQUESTION: q2\nINSTRUCTION: steps\n[SOURCE - \"fx-guide - 001\"]"
	if err := st.WritePageArtifact(docID, 1, store.FAQFile, []byte(faq)); err != nil {
		t.Fatal(err)
	}

	rows, missing, err := FAQRows(st, docID, 3)
	if err != nil {
		t.Fatalf("FAQRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if !reflect.DeepEqual(missing, []int{2, 3}) {
		t.Errorf("missing = %v", missing)
	}
	if rows[1].Answer != "steps" {
		t.Errorf("row 2 answer = %q", rows[1].Answer)
	}
}

func TestFAQWorkbook(t *testing.T) {
	st, docID := seedDoc(t)
	faq := "QUESTION: q\nANSWER: a\n[SOURCE - \"fx-guide - 002\"]"
	if err := st.WritePageArtifact(docID, 2, store.FAQFile, []byte(faq)); err != nil {
		t.Fatal(err)
	}
	blocks, _, err := FAQRows(st, docID, 3)
	if err != nil {
		t.Fatal(err)
	}

	buf, err := FAQWorkbook(blocks)
	if err != nil {
		t.Fatalf("FAQWorkbook: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("empty workbook")
	}
	// xlsx files are zip archives.
	if got := buf.Bytes()[:2]; string(got) != "PK" {
		t.Errorf("not a zip: % x", got)
	}
}

func TestInstructionDocx(t *testing.T) {
	buf, err := InstructionDocx("fx-guide", "# Title\n\nBody line.\n## Section\nMore.")
	if err != nil {
		t.Fatalf("InstructionDocx: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("empty docx")
	}
	if got := buf.Bytes()[:2]; string(got) != "PK" {
		t.Errorf("not a zip: % x", got)
	}
}
