// Package store owns the on-disk layout of processed documents. Every
// artifact write goes through a temp file plus rename so a crash mid-write
// never leaves a truncated file behind, and reprocessing can resume from
// whatever artifacts survive.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsdesk/pamphletd/internal/gigachat"
)

// Artifact file names inside a document directory. Page artifacts live
// under page_NNN/, the rest at the document root.
const (
	MetaFile        = "meta.json"
	OriginalFile    = "original.pdf"
	PageTextFile    = "page.txt"
	PageImageFile   = "page.jpg"
	OCRFile         = "ocr.txt"
	InstructionFile = "instruction.txt"
	ContextFile     = "instruction_with_context.txt"
	FAQFile         = "faq.md"
	MergedFile      = "instructions_merged.md"
	IncrementalFile = "instructions_incremental.md"
	GeneralFile     = "general_instruction.md"
)

var ErrNotFound = errors.New("store: not found")

// LastOp records the most recent operation applied to a document, for the
// status view and for diagnosing interrupted batches.
type LastOp struct {
	Op   string    `json:"op"`
	Page int       `json:"page,omitempty"`
	At   time.Time `json:"at"`
}

type Meta struct {
	DocID        string         `json:"doc_id"`
	Filename     string         `json:"filename"`
	PamphletName string         `json:"pamphlet_name"`
	Pages        int            `json:"pages"`
	Model        string         `json:"model,omitempty"`
	Temperature  float64        `json:"temperature,omitempty"`
	Tokens       gigachat.Usage `json:"tokens"`
	LastOp       *LastOp        `json:"last_op,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Store is safe for concurrent use. A single mutex serializes meta
// updates; artifact writes are independent files and need no lock beyond
// the atomic rename.
type Store struct {
	root string
	mu   sync.Mutex
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) DocDir(docID string) string {
	return filepath.Join(s.root, docID)
}

func (s *Store) PageDir(docID string, page int) string {
	return filepath.Join(s.root, docID, fmt.Sprintf("page_%03d", page))
}

// CreateDocument allocates a new document directory, stores the uploaded
// PDF and writes the initial meta. The pamphlet name defaults to the
// filename without its extension.
func (s *Store) CreateDocument(filename, pamphletName string, pdf []byte) (*Meta, error) {
	if pamphletName == "" {
		pamphletName = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	meta := &Meta{
		DocID:        uuid.NewString(),
		Filename:     filepath.Base(filename),
		PamphletName: pamphletName,
		CreatedAt:    time.Now().UTC(),
	}
	dir := s.DocDir(meta.DocID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, OriginalFile), pdf); err != nil {
		return nil, err
	}
	if err := s.writeMeta(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Store) writeMeta(meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.DocDir(meta.DocID), MetaFile), data)
}

func (s *Store) ReadMeta(docID string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.DocDir(docID), MetaFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode meta for %s: %w", docID, err)
	}
	return &meta, nil
}

// UpdateMeta applies fn to the current meta and persists the result. The
// read-modify-write runs under the store mutex so concurrent page workers
// cannot lose each other's token deltas.
func (s *Store) UpdateMeta(docID string, fn func(*Meta)) (*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := s.ReadMeta(docID)
	if err != nil {
		return nil, err
	}
	fn(meta)
	if err := s.writeMeta(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// ListDocuments returns metas for every document directory, newest first.
// Directories with unreadable meta are skipped.
func (s *Store) ListDocuments() ([]*Meta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list data dir: %w", err)
	}
	var metas []*Meta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.ReadMeta(e.Name())
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

func (s *Store) DeleteDocument(docID string) error {
	dir := s.DocDir(docID)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return os.RemoveAll(dir)
}

// WritePageArtifact stores a named artifact for one page (1-based).
func (s *Store) WritePageArtifact(docID string, page int, name string, data []byte) error {
	dir := s.PageDir(docID, page)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create page dir: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, name), data)
}

func (s *Store) ReadPageArtifact(docID string, page int, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.PageDir(docID, page), name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) HasPageArtifact(docID string, page int, name string) bool {
	_, err := os.Stat(filepath.Join(s.PageDir(docID, page), name))
	return err == nil
}

// WriteDocArtifact stores a document-level artifact such as the merged
// instruction file.
func (s *Store) WriteDocArtifact(docID, name string, data []byte) error {
	return writeFileAtomic(filepath.Join(s.DocDir(docID), name), data)
}

func (s *Store) ReadDocArtifact(docID, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.DocDir(docID), name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) HasDocArtifact(docID, name string) bool {
	_, err := os.Stat(filepath.Join(s.DocDir(docID), name))
	return err == nil
}

// MissingPages returns the 1-based page numbers in [1, pages] that lack
// the named artifact.
func (s *Store) MissingPages(docID string, pages int, name string) []int {
	var missing []int
	for p := 1; p <= pages; p++ {
		if !s.HasPageArtifact(docID, p, name) {
			missing = append(missing, p)
		}
	}
	return missing
}

// LastFoldedPage returns the largest k such that pages 1..k all carry a
// context artifact, i.e. the point from which an interrupted context fold
// can resume. Zero means no fold output exists yet.
func (s *Store) LastFoldedPage(docID string, pages int) int {
	last := 0
	for p := 1; p <= pages; p++ {
		if !s.HasPageArtifact(docID, p, ContextFile) {
			break
		}
		last = p
	}
	return last
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
