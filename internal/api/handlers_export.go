package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opsdesk/pamphletd/internal/export"
	"github.com/opsdesk/pamphletd/internal/store"
)

func forceExport(r *http.Request) bool {
	v := r.URL.Query().Get("force")
	return v == "1" || strings.EqualFold(v, "true")
}

func missingPagesError(w http.ResponseWriter, missing []int) {
	nums := make([]string, len(missing))
	for i, p := range missing {
		nums[i] = fmt.Sprintf("%d", p)
	}
	writeJSON(w, http.StatusConflict, map[string]any{
		"error":         "export incomplete: some pages have no artifact; add force=1 to export anyway",
		"missing_pages": missing,
		"detail":        "missing pages: " + strings.Join(nums, ", "),
	})
}

func (s *Server) exportMeta(w http.ResponseWriter, r *http.Request) (*store.Meta, bool) {
	meta, err := s.store.ReadMeta(chi.URLParam(r, "docID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return meta, true
}

func (s *Server) handleExportInstructionsMD(w http.ResponseWriter, r *http.Request) {
	meta, ok := s.exportMeta(w, r)
	if !ok {
		return
	}
	content, missing, err := export.MergedInstructions(s.store, meta.DocID, meta.Pages)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(missing) > 0 && !forceExport(r) {
		missingPagesError(w, missing)
		return
	}
	serveAttachment(w, meta.PamphletName+"-instructions.md", "text/markdown; charset=utf-8", []byte(content))
}

func (s *Server) handleExportInstructionsDocx(w http.ResponseWriter, r *http.Request) {
	meta, ok := s.exportMeta(w, r)
	if !ok {
		return
	}
	missing := s.store.MissingPages(meta.DocID, meta.Pages, store.InstructionFile)
	if len(missing) > 0 && !forceExport(r) {
		missingPagesError(w, missing)
		return
	}
	content, err := export.FullInstruction(s.store, meta.DocID)
	if err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			writeError(w, http.StatusConflict, "no instruction document yet, run processing first")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	buf, err := export.InstructionDocx(meta.PamphletName, content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	serveAttachment(w, meta.PamphletName+"-instructions.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", buf.Bytes())
}

func (s *Server) handleExportFAQMD(w http.ResponseWriter, r *http.Request) {
	meta, ok := s.exportMeta(w, r)
	if !ok {
		return
	}
	content, missing, err := export.FAQMarkdown(s.store, meta.DocID, meta.Pages)
	if err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			writeError(w, http.StatusConflict, "no FAQ entries yet, run FAQ generation first")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(missing) > 0 && !forceExport(r) {
		missingPagesError(w, missing)
		return
	}
	serveAttachment(w, meta.PamphletName+"-faq.md", "text/markdown; charset=utf-8", []byte(content))
}

func (s *Server) handleExportFAQXlsx(w http.ResponseWriter, r *http.Request) {
	meta, ok := s.exportMeta(w, r)
	if !ok {
		return
	}
	rows, missing, err := export.FAQRows(s.store, meta.DocID, meta.Pages)
	if err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			writeError(w, http.StatusConflict, "no FAQ entries yet, run FAQ generation first")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(missing) > 0 && !forceExport(r) {
		missingPagesError(w, missing)
		return
	}
	buf, err := export.FAQWorkbook(rows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	serveAttachment(w, meta.PamphletName+"-faq.xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func serveAttachment(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}
