package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsdesk/pamphletd/internal/gigachat"
	"github.com/opsdesk/pamphletd/internal/store"
	"github.com/opsdesk/pamphletd/internal/synth"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "parse upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "only PDF uploads are accepted")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	meta, err := s.store.CreateDocument(header.Filename, r.FormValue("name"), data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Optional per-document model pin for the review workflow.
	if model, temp := r.FormValue("model"), r.FormValue("temperature"); model != "" || temp != "" {
		var t float64
		if temp != "" {
			t, err = strconv.ParseFloat(temp, 64)
			if err != nil || t < 0 || t > 2 {
				_ = s.store.DeleteDocument(meta.DocID)
				writeError(w, http.StatusBadRequest, "temperature must be a number between 0 and 2")
				return
			}
		}
		if _, err := s.store.UpdateMeta(meta.DocID, func(m *store.Meta) {
			m.Model = model
			m.Temperature = t
		}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if _, err := s.extractor.ExtractPages(r.Context(), meta.DocID); err != nil {
		s.log.Error("extraction failed", "doc_id", meta.DocID, "error", err)
		_ = s.store.DeleteDocument(meta.DocID)
		writeError(w, http.StatusUnprocessableEntity, "extract pages: "+err.Error())
		return
	}

	meta, err = s.store.ReadMeta(meta.DocID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.ListDocuments()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": metas})
}

type documentStatus struct {
	*store.Meta
	MissingInstructions []int `json:"missing_instructions"`
	MissingFAQ          []int `json:"missing_faq"`
	LastFoldedPage      int   `json:"last_folded_page"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	meta, err := s.store.ReadMeta(docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, documentStatus{
		Meta:                meta,
		MissingInstructions: s.store.MissingPages(docID, meta.Pages, store.InstructionFile),
		MissingFAQ:          s.store.MissingPages(docID, meta.Pages, store.FAQFile),
		LastFoldedPage:      s.store.LastFoldedPage(docID, meta.Pages),
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if err := s.store.DeleteDocument(docID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var artifactContentTypes = map[string]string{
	store.PageImageFile:   "image/jpeg",
	store.PageTextFile:    "text/plain; charset=utf-8",
	store.OCRFile:         "text/plain; charset=utf-8",
	store.InstructionFile: "text/plain; charset=utf-8",
	store.ContextFile:     "text/plain; charset=utf-8",
	store.FAQFile:         "text/markdown; charset=utf-8",
}

func (s *Server) handlePageArtifact(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "invalid page number")
		return
	}
	artifact := chi.URLParam(r, "artifact")
	ct, ok := artifactContentTypes[artifact]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown artifact")
		return
	}
	data, err := s.store.ReadPageArtifact(docID, page, artifact)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Write(data)
}

// handleGeneral builds the whole-document general instruction
// synchronously. It is a handful of model calls, not a per-page batch, so
// it does not go through the job queue.
func (s *Server) handleGeneral(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	meta, err := s.store.ReadMeta(docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var pages []synth.PageText
	for p := 1; p <= meta.Pages; p++ {
		data, err := s.store.ReadPageArtifact(docID, p, store.InstructionFile)
		if err != nil {
			continue
		}
		pages = append(pages, synth.PageText{Num: p, Text: string(data)})
	}
	if len(pages) == 0 {
		writeError(w, http.StatusConflict, "no page instructions yet, run processing first")
		return
	}

	opts := gigachat.CallOptions{Model: meta.Model, MaxTokens: s.cfg.GeneralOutputTokens}
	if meta.Temperature != 0 {
		t := meta.Temperature
		opts.Temperature = &t
	}

	before := s.usage.Snapshot()
	doc, err := synth.SynthesizeGeneral(r.Context(), s.llm, pages, s.cfg.GeneralBatchChars, opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	delta := s.usage.Snapshot().Sub(before)

	if err := s.store.WriteDocArtifact(docID, store.GeneralFile, []byte(doc)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.store.UpdateMeta(docID, func(m *store.Meta) {
		m.Tokens = m.Tokens.Add(delta)
		m.LastOp = &store.LastOp{Op: "general", At: time.Now().UTC()}
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": doc})
}
