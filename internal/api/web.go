package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/opsdesk/pamphletd/internal/pipeline"
	"github.com/opsdesk/pamphletd/internal/store"
)

var md = goldmark.New()

// renderMarkdown converts stored markdown to HTML for the review UI. The
// output is trusted: it renders our own artifacts, not user input.
func renderMarkdown(src []byte) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(string(src)))
	}
	return template.HTML(buf.String())
}

const baseCSS = `body{font-family:sans-serif;max-width:1100px;margin:0 auto;padding:1em}
table{border-collapse:collapse;width:100%}td,th{border:1px solid #ccc;padding:.4em .6em;text-align:left}
.err{color:#a00}.ok{color:#070}.muted{color:#777}
img.page{max-width:100%;border:1px solid #ccc}
pre{white-space:pre-wrap;background:#f6f6f6;padding:.6em}
.cols{display:flex;gap:1em}.cols>div{flex:1;min-width:0}
nav a{margin-right:1em}`

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Pamphlets</title><style>` + baseCSS + `</style></head><body>
<h1>Pamphlets</h1>
<form method="post" action="/docs" enctype="multipart/form-data">
<input type="file" name="file" accept=".pdf" required>
<input type="text" name="name" placeholder="pamphlet name (optional)">
<button type="submit">Upload</button>
</form>
<table><tr><th>Name</th><th>Pages</th><th>Tokens</th><th>Last op</th><th>Last error</th></tr>
{{range .Documents}}<tr>
<td><a href="/docs/{{.DocID}}">{{.PamphletName}}</a></td>
<td>{{.Pages}}</td>
<td>{{.Tokens.TotalTokens}}</td>
<td class="muted">{{with .LastOp}}{{.Op}}{{if .Page}} p{{.Page}}{{end}}{{end}}</td>
<td class="err">{{.LastError}}</td>
</tr>{{else}}<tr><td colspan="5" class="muted">no documents yet</td></tr>{{end}}
</table>
</body></html>`))

type docPageRow struct {
	Num            int
	HasInstruction bool
	HasFAQ         bool
	Folded         bool
}

type docView struct {
	Meta       *store.Meta
	Rows       []docPageRow
	HasGeneral bool
	General    template.HTML
	Jobs       []pipeline.Job
}

var docTmpl = template.Must(template.New("doc").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Meta.PamphletName}}</title><style>` + baseCSS + `</style></head><body>
<nav><a href="/">&larr; all pamphlets</a></nav>
<h1>{{.Meta.PamphletName}}</h1>
<p class="muted">{{.Meta.Filename}}, {{.Meta.Pages}} pages, {{.Meta.Tokens.TotalTokens}} tokens spent</p>
{{if .Meta.LastError}}<p class="err">{{.Meta.LastError}}</p>{{end}}
<p>
<form method="post" action="/docs/{{.Meta.DocID}}/jobs" style="display:inline">
<button name="kind" value="process">Process all pages</button>
<button name="kind" value="faq">Generate FAQ</button>
</form>
<form method="post" action="/docs/{{.Meta.DocID}}/general" style="display:inline"><button>General instruction</button></form>
</p>
<p>Export:
<a href="/api/documents/{{.Meta.DocID}}/export/instructions.md">instructions.md</a>
<a href="/api/documents/{{.Meta.DocID}}/export/instructions.docx">instructions.docx</a>
<a href="/api/documents/{{.Meta.DocID}}/export/faq.md">faq.md</a>
<a href="/api/documents/{{.Meta.DocID}}/export/faq.xlsx">faq.xlsx</a>
</p>
{{if .Jobs}}<h2>Jobs</h2><table><tr><th>Kind</th><th>Status</th><th>Progress</th><th>Error</th></tr>
{{range .Jobs}}<tr><td>{{.Kind}}</td><td>{{.Status}}</td><td>{{.Done}}/{{.Total}}</td><td class="err">{{.Error}}</td></tr>{{end}}
</table>{{end}}
<h2>Pages</h2>
<table><tr><th>Page</th><th>Instruction</th><th>Context</th><th>FAQ</th></tr>
{{range .Rows}}<tr>
<td><a href="/docs/{{$.Meta.DocID}}/pages/{{.Num}}">{{printf "%03d" .Num}}</a></td>
<td>{{if .HasInstruction}}<span class="ok">yes</span>{{else}}<span class="muted">no</span>{{end}}</td>
<td>{{if .Folded}}<span class="ok">yes</span>{{else}}<span class="muted">no</span>{{end}}</td>
<td>{{if .HasFAQ}}<span class="ok">yes</span>{{else}}<span class="muted">no</span>{{end}}</td>
</tr>{{end}}
</table>
{{if .HasGeneral}}<h2>General instruction</h2><div>{{.General}}</div>{{end}}
</body></html>`))

type pageView struct {
	Meta        *store.Meta
	Num         int
	OCR         string
	Layer       string
	Instruction template.HTML
	Context     template.HTML
	FAQ         template.HTML
	HasFAQ      bool
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Meta.PamphletName}} p{{.Num}}</title><style>` + baseCSS + `</style></head><body>
<nav><a href="/docs/{{.Meta.DocID}}">&larr; {{.Meta.PamphletName}}</a></nav>
<h1>Page {{printf "%03d" .Num}}</h1>
<p>
<form method="post" action="/docs/{{.Meta.DocID}}/pages/{{.Num}}/process" style="display:inline"><button>Re-run OCR + merge</button></form>
<form method="post" action="/docs/{{.Meta.DocID}}/pages/{{.Num}}/faq" style="display:inline"><button>Re-run FAQ</button></form>
</p>
<div class="cols">
<div><h2>Scan</h2><img class="page" src="/api/documents/{{.Meta.DocID}}/pages/{{.Num}}/page.jpg"></div>
<div>
<h2>Instruction</h2><div>{{.Instruction}}</div>
<h2>Accumulated context</h2><div>{{.Context}}</div>
{{if .HasFAQ}}<h2>FAQ</h2><div>{{.FAQ}}</div>{{end}}
<h2>OCR transcript</h2><pre>{{.OCR}}</pre>
<h2>PDF text layer</h2><pre>{{.Layer}}</pre>
</div>
</div>
</body></html>`))

func (s *Server) webRoutes(r chi.Router) {
	r.Get("/", s.webIndex)
	r.Post("/docs", s.webUpload)
	r.Get("/docs/{docID}", s.webDoc)
	r.Post("/docs/{docID}/jobs", s.webCreateJob)
	r.Post("/docs/{docID}/general", s.webGeneral)
	r.Get("/docs/{docID}/pages/{page}", s.webPage)
	r.Post("/docs/{docID}/pages/{page}/process", s.webProcessPage)
	r.Post("/docs/{docID}/pages/{page}/faq", s.webFAQPage)
}

func (s *Server) webIndex(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.ListDocuments()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	indexTmpl.Execute(w, map[string]any{"Documents": metas})
}

func (s *Server) webUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	// Reuse the API handler's validation by delegating.
	rec := &redirectCatcher{ResponseWriter: w}
	s.handleUpload(rec, r)
	if rec.status >= 400 {
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// redirectCatcher suppresses the JSON body of a successful API response
// so the web handler can redirect instead.
type redirectCatcher struct {
	http.ResponseWriter
	status int
}

func (c *redirectCatcher) WriteHeader(code int) {
	c.status = code
	if code >= 400 {
		c.ResponseWriter.WriteHeader(code)
	}
}

func (c *redirectCatcher) Write(b []byte) (int, error) {
	if c.status >= 400 {
		return c.ResponseWriter.Write(b)
	}
	return len(b), nil
}

func (s *Server) webDoc(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	meta, err := s.store.ReadMeta(docID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	view := docView{Meta: meta}
	for p := 1; p <= meta.Pages; p++ {
		view.Rows = append(view.Rows, docPageRow{
			Num:            p,
			HasInstruction: s.store.HasPageArtifact(docID, p, store.InstructionFile),
			HasFAQ:         s.store.HasPageArtifact(docID, p, store.FAQFile),
			Folded:         s.store.HasPageArtifact(docID, p, store.ContextFile),
		})
	}
	if data, err := s.store.ReadDocArtifact(docID, store.GeneralFile); err == nil {
		view.HasGeneral = true
		view.General = renderMarkdown(data)
	}
	for _, job := range s.orch.Jobs() {
		for _, id := range job.DocIDs {
			if id == docID {
				view.Jobs = append(view.Jobs, job)
				break
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	docTmpl.Execute(w, view)
}

func (s *Server) webCreateJob(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	kind := pipeline.JobKind(r.FormValue("kind"))
	// The job outlives this request.
	if _, err := s.orch.Submit(context.Background(), kind, []string{docID}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, "/docs/"+docID, http.StatusSeeOther)
}

func (s *Server) webGeneral(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	rec := &redirectCatcher{ResponseWriter: w}
	s.handleGeneral(rec, r)
	if rec.status >= 400 {
		return
	}
	http.Redirect(w, r, "/docs/"+docID, http.StatusSeeOther)
}

func (s *Server) webPage(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		http.NotFound(w, r)
		return
	}
	meta, err := s.store.ReadMeta(docID)
	if err != nil || page > meta.Pages {
		http.NotFound(w, r)
		return
	}

	view := pageView{Meta: meta, Num: page}
	if data, err := s.store.ReadPageArtifact(docID, page, store.OCRFile); err == nil {
		view.OCR = string(data)
	}
	if data, err := s.store.ReadPageArtifact(docID, page, store.PageTextFile); err == nil {
		view.Layer = string(data)
	}
	if data, err := s.store.ReadPageArtifact(docID, page, store.InstructionFile); err == nil {
		view.Instruction = renderMarkdown(data)
	}
	if data, err := s.store.ReadPageArtifact(docID, page, store.ContextFile); err == nil {
		view.Context = renderMarkdown(data)
	}
	if data, err := s.store.ReadPageArtifact(docID, page, store.FAQFile); err == nil {
		view.HasFAQ = true
		view.FAQ = renderMarkdown(data)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	pageTmpl.Execute(w, view)
}

func (s *Server) webProcessPage(w http.ResponseWriter, r *http.Request) {
	s.webPageOp(w, r, s.orch.ProcessPage)
}

func (s *Server) webFAQPage(w http.ResponseWriter, r *http.Request) {
	s.webPageOp(w, r, s.orch.FAQPage)
}

func (s *Server) webPageOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, docID string, page int) error) {
	docID := chi.URLParam(r, "docID")
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		http.NotFound(w, r)
		return
	}
	if err := op(r.Context(), docID, page); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, pipeline.ErrNoInstruction) || errors.Is(err, store.ErrNotFound) {
			status = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("page %d: %v", page, err), status)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/docs/%s/pages/%d", docID, page), http.StatusSeeOther)
}
