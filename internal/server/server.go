package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/medbrief/internal/assemble"
	"github.com/TobiSchelling/medbrief/internal/cache"
	"github.com/TobiSchelling/medbrief/internal/database"
	"github.com/TobiSchelling/medbrief/internal/document"
	"github.com/TobiSchelling/medbrief/internal/pipeline"
	"github.com/TobiSchelling/medbrief/internal/render"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Runner answers a question. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, query string) (*pipeline.Result, error)
}

// Server is the HTTP server for browsing and asking questions.
type Server struct {
	queries *cache.QueryCache
	runner  Runner
	pdf     render.PDF
	logger  *zap.Logger
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// New creates a new Server. runner may be nil, which disables asking.
func New(db *database.DB, runner Runner, logger *zap.Logger) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": render.HTML,
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not collide.
	pageNames := []string{"index.html", "report.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		queries: cache.NewQueryCache(db, logger),
		runner:  runner,
		logger:  logger,
		pages:   pages,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /report/{hash}", s.handleReport)
	s.mux.HandleFunc("GET /report/{hash}/pdf", s.handlePDF)
	s.mux.HandleFunc("POST /ask", s.handleAsk)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.queries.List()
	if err != nil {
		s.logger.Error("listing cached queries", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, http.StatusOK, "index.html", map[string]any{
		"Reports":  snaps,
		"CanAsk":   s.runner != nil,
		"Question": "",
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.renderReport(w, snap.Hash, snap.Query, snap.Docs)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookup(w, r)
	if !ok {
		return
	}

	data, err := s.pdf.Render(assemble.NewStructured(snap.Query, snap.Docs))
	if err != nil {
		s.logger.Error("rendering PDF", zap.String("hash", snap.Hash), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename=%q`, render.PDFFilename(snap.Query, time.Now())))
	w.Write(data)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, "Asking is not configured on this server", http.StatusServiceUnavailable)
		return
	}

	question := strings.TrimSpace(r.FormValue("question"))
	if question == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	res, err := s.runner.Run(r.Context(), question)
	if err != nil {
		s.logger.Error("run failed", zap.String("query", question), zap.Error(err))
		s.render(w, http.StatusBadGateway, "index.html", map[string]any{
			"Error":    err.Error(),
			"CanAsk":   true,
			"Question": question,
		})
		return
	}

	http.Redirect(w, r, "/report/"+cache.HashQuery(res.Query), http.StatusSeeOther)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*cache.Snapshot, bool) {
	snap, err := s.queries.GetByHash(r.PathValue("hash"))
	if err != nil {
		s.logger.Error("reading cached report", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if snap == nil {
		http.NotFound(w, r)
		return nil, false
	}
	return snap, true
}

// renderReport shows the Markdown form regardless of the stored format.
func (s *Server) renderReport(w http.ResponseWriter, hash, query string, docs []document.Document) {
	report, err := assemble.Markdown{}.Assemble(query, docs)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, http.StatusOK, "report.html", map[string]any{
		"Hash":      hash,
		"Query":     query,
		"Markdown":  report.Body,
		"Count":     len(docs),
		"NoResults": len(docs) == 0,
	})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error("rendering template", zap.String("template", name), zap.Error(err))
	}
}

// Serve starts the HTTP server on the given port and stops when ctx ends.
func Serve(ctx context.Context, db *database.DB, runner Runner, port int, logger *zap.Logger) error {
	srv, err := New(db, runner, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("server listening", zap.String("url", "http://"+addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
