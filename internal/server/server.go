// Package server is the development HTTP server. It serves the project
// tree, injects the live-reload client into HTML pages and streams reload
// events to browsers over Server-Sent Events.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/browser"

	"github.com/dshills/assetpipe/internal/config"
	"github.com/dshills/assetpipe/internal/event"
	"github.com/dshills/assetpipe/internal/logging"
)

// Live-reload endpoints.
const (
	ReloadPath   = "/__assetpipe/livereload"
	ClientPath   = "/__assetpipe/livereload.js"
	shutdownWait = 5 * time.Second
)

var scriptTag = []byte(`<script src="` + ClientPath + `"></script>`)

// ErrNoBus is returned when the live-reload stream is requested without a bus.
var ErrNoBus = errors.New("server: no event bus")

// Options configures a Server.
type Options struct {
	Config config.ServerConfig
	// Root is the absolute directory served at "/".
	Root   string
	Bus    *event.Bus
	Logger *logging.Logger
	// Open launches the start page. Defaults to the system browser.
	Open func(url string) error
}

// Server is the dev server.
type Server struct {
	cfg    config.ServerConfig
	root   string
	bus    *event.Bus
	log    *logging.Logger
	open   func(string) error
	engine *gin.Engine

	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	clients map[string]struct{}
}

// New builds the routes. It does not listen.
func New(opts Options) *Server {
	s := &Server{
		cfg:     opts.Config,
		root:    opts.Root,
		bus:     opts.Bus,
		log:     opts.Logger,
		open:    opts.Open,
		done:    make(chan struct{}),
		clients: make(map[string]struct{}),
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.WithComponent("server")
	if s.open == nil {
		s.open = browser.OpenURL
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog)
	r.GET(ClientPath, s.client)
	r.GET(ReloadPath, s.stream)
	r.NoRoute(s.static)
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Clients returns the number of connected live-reload clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	cfg := s.cfg
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		cfg.Port = tcp.Port
	}
	url := cfg.URL()
	s.log.Info("serving", "root", s.root, "url", url)
	if !s.cfg.NoOpen {
		if err := s.open(url); err != nil {
			s.log.Warn("could not open browser", "error", err)
		}
	}

	select {
	case err := <-errc:
		s.stopStreams()
		return err
	case <-ctx.Done():
	}

	s.stopStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) stopStreams() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	if c.FullPath() == ReloadPath {
		return
	}
	s.log.Debug("request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start).String())
}

func (s *Server) client(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(clientScript))
}

func (s *Server) stream(c *gin.Context) {
	if s.bus == nil {
		c.AbortWithError(http.StatusServiceUnavailable, ErrNoBus)
		return
	}
	sub, err := s.bus.Subscribe(event.TopicReloadAll, 16)
	if err != nil {
		c.AbortWithError(http.StatusServiceUnavailable, err)
		return
	}
	defer func() { _ = s.bus.Unsubscribe(sub) }()

	id := uuid.NewString()
	s.mu.Lock()
	s.clients[id] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
	}()
	s.log.Debug("live-reload client connected", "client", id, "clients", s.Clients())

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("connected", id)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent("reload", ev)
			return true
		}
	})
}

// static serves files below root. HTML responses get the live-reload
// client appended.
func (s *Server) static(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	rel := path.Clean("/" + c.Request.URL.Path)
	file := filepath.Join(s.root, filepath.FromSlash(rel))

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
		info, err = os.Stat(file)
	}
	if err != nil || info.IsDir() {
		c.String(http.StatusNotFound, "404 page not found")
		return
	}

	if !isHTML(file) {
		c.File(file)
		return
	}
	body, err := os.ReadFile(file)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", InjectScript(body))
}

func isHTML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}

// InjectScript inserts the live-reload script tag before the last </body>,
// or appends it when the page has none.
func InjectScript(page []byte) []byte {
	i := lastBodyClose(page)
	if i < 0 {
		return append(append(make([]byte, 0, len(page)+len(scriptTag)), page...), scriptTag...)
	}
	out := make([]byte, 0, len(page)+len(scriptTag))
	out = append(out, page[:i]...)
	out = append(out, scriptTag...)
	return append(out, page[i:]...)
}

// lastBodyClose returns the offset in page of the last </body>, matched
// ASCII case-insensitively, or -1. Offsets index page itself; folding
// other scripts could change byte lengths.
func lastBodyClose(page []byte) int {
	const tag = "</body>"
	for i := len(page) - len(tag); i >= 0; i-- {
		if asciiEqualFold(page[i:i+len(tag)], tag) {
			return i
		}
	}
	return -1
}

func asciiEqualFold(b []byte, lower string) bool {
	for i := range b {
		c := b[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}
