// Package server exposes the aggregation engine over HTTP: a JSON API for
// the presentation layer and a rendered Markdown digest.
package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/hrnews/internal/aggregate"
	"github.com/TobiSchelling/hrnews/internal/compose"
	"github.com/TobiSchelling/hrnews/internal/database"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New()

// Regions offered as digest shortcuts.
var digestRegions = []string{"All Regions", "USA - Nationwide", "Canada", "UK - England", "Netherlands", "Spain"}

// History reads recorded passes. It is optional.
type History interface {
	GetRecentPasses(limit int) ([]database.Pass, error)
	GetSourceHealth(since time.Time) ([]database.SourceHealth, error)
}

// Server is the HTTP server.
type Server struct {
	engine  *aggregate.Engine
	history History
	digest  *template.Template
	router  *gin.Engine
}

// New creates a Server. history may be nil.
func New(engine *aggregate.Engine, history History) (*Server, error) {
	funcMap := template.FuncMap{"markdown": renderMarkdown}
	digest, err := template.New("digest.html").Funcs(funcMap).ParseFS(templateFS, "templates/digest.html")
	if err != nil {
		return nil, fmt.Errorf("parsing digest template: %w", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	s := &Server{engine: engine, history: history, digest: digest, router: r}
	s.RegisterRoutes(r)
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/digest", s.handleDigest)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/news", s.listNews)
		v1.GET("/sources", s.listSources)
		v1.GET("/cache/stats", s.cacheStats)
		v1.POST("/cache/clear", s.clearCache)
		v1.GET("/history", s.listHistory)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func apiError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"code": code, "message": message})
}

// parseRequest reads the aggregation request from query parameters:
// enabled, limit, offset, region, sources (comma list selecting exactly
// those sources), exclude (comma list) and refresh.
func (s *Server) parseRequest(c *gin.Context) (aggregate.Request, error) {
	req := aggregate.Request{
		Enabled:         true,
		PreferredRegion: strings.TrimSpace(c.Query("region")),
	}

	if v := c.Query("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid enabled %q", v)
		}
		req.Enabled = b
	}
	if v := c.Query("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid refresh %q", v)
		}
		req.ForceRefresh = b
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, fmt.Errorf("invalid limit %q", v)
		}
		req.Limit = &n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, fmt.Errorf("invalid offset %q", v)
		}
		req.Offset = n
	}

	only := splitList(c.Query("sources"))
	exclude := splitList(c.Query("exclude"))
	if len(only) > 0 || len(exclude) > 0 {
		req.EnabledSources = make(map[string]bool)
		if len(only) > 0 {
			for _, d := range s.engine.Registry().All() {
				req.EnabledSources[d.Key] = false
			}
			for _, k := range only {
				if _, ok := s.engine.Registry().Get(k); !ok {
					return req, fmt.Errorf("unknown source %q", k)
				}
				req.EnabledSources[k] = true
			}
		}
		for _, k := range exclude {
			req.EnabledSources[k] = false
		}
	}
	return req, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) listNews(c *gin.Context) {
	req, err := s.parseRequest(c)
	if err != nil {
		apiError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.engine.Fetch(c.Request.Context(), req))
}

func (s *Server) listSources(c *gin.Context) {
	descs := s.engine.Registry().All()
	out := make([]gin.H, 0, len(descs))
	for _, d := range descs {
		out = append(out, gin.H{
			"key":      d.Key,
			"name":     d.Name,
			"kind":     d.Kind,
			"category": d.Category,
			"enabled":  d.Enabled,
			"endpoint": d.Endpoint,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sources": out})
}

func (s *Server) cacheStats(c *gin.Context) {
	st := s.engine.CacheStats(c.Request.Context())
	body := gin.H{
		"cachedKeys":      st.Keys,
		"entries":         st.Entries,
		"articles":        st.Articles,
		"approximateSize": st.ApproximateBytes,
		"ttlSeconds":      int(s.engine.TTL().Seconds()),
	}
	if st.LastUpdate != nil {
		body["lastUpdate"] = st.LastUpdate
		body["ageSeconds"] = int(time.Since(*st.LastUpdate).Seconds())
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) clearCache(c *gin.Context) {
	s.engine.ClearCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		apiError(c, http.StatusNotFound, "not_found", "pass history is disabled")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	passes, err := s.history.GetRecentPasses(limit)
	if err != nil {
		log.Printf("Error reading pass history: %v", err)
		apiError(c, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	health, err := s.history.GetSourceHealth(time.Now().Add(-7 * 24 * time.Hour))
	if err != nil {
		log.Printf("Error reading source health: %v", err)
		apiError(c, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	out := make([]gin.H, 0, len(passes))
	for _, p := range passes {
		sources := make([]gin.H, 0, len(p.Sources))
		for _, ps := range p.Sources {
			sources = append(sources, gin.H{
				"key": ps.SourceKey, "name": ps.Name, "status": ps.Status, "count": ps.Count, "error": ps.Error,
			})
		}
		out = append(out, gin.H{
			"id":         p.ID,
			"cacheKey":   p.CacheKey,
			"region":     p.Region,
			"startedAt":  p.StartedAt,
			"durationMs": p.Duration().Milliseconds(),
			"articles":   p.ArticleCount,
			"forced":     p.Forced,
			"sources":    sources,
		})
	}
	healthOut := make([]gin.H, 0, len(health))
	for _, h := range health {
		healthOut = append(healthOut, gin.H{
			"key":         h.SourceKey,
			"name":        h.Name,
			"passes":      h.Passes,
			"failures":    h.Failures,
			"failureRate": h.FailureRate(),
			"lastStatus":  h.LastStatus,
			"lastError":   h.LastError,
			"lastSeen":    h.LastSeen,
		})
	}
	c.JSON(http.StatusOK, gin.H{"passes": out, "sourceHealth": healthOut})
}

func (s *Server) handleDigest(c *gin.Context) {
	req, err := s.parseRequest(c)
	if err != nil {
		apiError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.Enabled = true
	if req.Limit == nil {
		n := 25
		req.Limit = &n
	}
	b := compose.Compose(s.engine.Fetch(c.Request.Context(), req), req.PreferredRegion)

	if c.Query("format") == "md" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(b.Markdown()))
		return
	}

	var buf bytes.Buffer
	err = s.digest.Execute(&buf, map[string]any{
		"Title":    b.Title,
		"Markdown": b.Markdown(),
		"Region":   req.PreferredRegion,
		"Regions":  digestRegions,
	})
	if err != nil {
		log.Printf("Error rendering digest: %v", err)
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on host:port.
func Serve(engine *aggregate.Engine, history History, host string, port int) error {
	gin.SetMode(gin.ReleaseMode)
	srv, err := New(engine, history)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
