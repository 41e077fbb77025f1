package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"nextgen-optimizer/internal/codec"
	"nextgen-optimizer/internal/config"
	"nextgen-optimizer/internal/converter"
	"nextgen-optimizer/internal/library"
	"nextgen-optimizer/internal/logger"
	"nextgen-optimizer/internal/rewrite"
	"nextgen-optimizer/internal/scanner"
	"nextgen-optimizer/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	lib      library.Library
	scan     *scanner.Scanner
	conv     *converter.Converter
	probe    *codec.Probe
	stats    *statistics.Statistics
	pending  *scanner.PendingCache
	rewriter *rewrite.Rewriter

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type BatchRequest struct {
	BatchSize int `json:"batch_size,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, lib library.Library, scan *scanner.Scanner, conv *converter.Converter, probe *codec.Probe, stats *statistics.Statistics) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		lib:      lib,
		scan:     scan,
		conv:     conv,
		probe:    probe,
		stats:    stats,
		pending:  scanner.NewPendingCache(time.Duration(cfg.Performance.ScanCacheTTL) * time.Second),
		rewriter: rewrite.NewRewriter(lib.Root(), "/media/", cfg.Conversion.OutputFormat, probe),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/convert-batch", s.handleConvertBatch).Methods("POST")
	api.HandleFunc("/revert", s.handleRevert).Methods("POST")
	api.HandleFunc("/capabilities", s.handleCapabilities).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/rewrite", s.handleRewrite).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Media files with content negotiation
	s.router.PathPrefix("/media/").HandlerFunc(s.handleMedia).Methods("GET", "HEAD")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	s.operationMutex.RUnlock()

	_, cached := s.pending.Get()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"scan_fresh": cached,
			"statistics": s.stats.GetSnapshot(),
		},
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	if s.isRunning {
		s.operationMutex.RUnlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.operationMutex.RUnlock()

	go s.runScanAsync()

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Scan started",
	})
}

func (s *Server) handleConvertBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if r.Body != nil {
		// An empty body means default batch size
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.operationMutex.Unlock()

	defer func() {
		s.operationMutex.Lock()
		s.isRunning = false
		s.operationMutex.Unlock()
	}()

	// A stale or missing pending queue forces a fresh scan first.
	pending, ok := s.pending.Get()
	if !ok {
		_, ids, err := s.scan.Scan()
		if err != nil {
			s.writeError(w, fmt.Sprintf("Scan failed: %v", err), http.StatusInternalServerError)
			return
		}
		pending = ids
	}

	result, remaining := s.scan.ConvertBatch(pending, req.BatchSize)
	s.pending.Set(remaining)

	s.broadcastWSMessage("batch_completed", result)

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    result,
	})
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.operationMutex.Unlock()

	defer func() {
		s.operationMutex.Lock()
		s.isRunning = false
		s.operationMutex.Unlock()
	}()

	formats := []codec.Format{codec.FormatWebP, codec.FormatAVIF}
	result := converter.RemoveAllDerived(s.lib.Root(), formats, s.log)

	s.stats.Reset()
	s.pending.Invalidate()

	s.broadcastWSMessage("revert_completed", result)

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    result,
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"engines":          s.probe.Capabilities(),
			"preferred_engine": s.probe.PreferredEngine(),
			"webp":             s.probe.SupportsFormat(codec.FormatWebP),
			"avif":             s.probe.SupportsFormat(codec.FormatAVIF),
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.stats.GetSnapshot(),
	})
}

// handleRewrite rewrites image URLs of the posted HTML document to their
// derived siblings, negotiated against the request's Accept header.
func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Rewrite.EnableFallbackReplacement {
		s.writeError(w, "URL rewriting is disabled", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Vary", "Accept")
	if err := s.rewriter.RewriteHTML(r.Body, w, r.Header.Get("Accept")); err != nil {
		s.log.Errorf("HTML rewrite failed: %v", err)
	}
}

// handleMedia serves library files. Requests for a JPEG or PNG whose derived
// sibling exists are answered with the derived file when the browser's
// Accept header allows it.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/media/")
	rel = filepath.Clean(filepath.FromSlash(rel))
	if rel == "." || strings.HasPrefix(rel, "..") {
		s.writeError(w, "Invalid path", http.StatusBadRequest)
		return
	}
	path := filepath.Join(s.lib.Root(), rel)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
	default:
		http.ServeFile(w, r, path)
		return
	}

	// The response depends on the Accept header either way.
	w.Header().Set("Vary", "Accept")

	f, ok := rewrite.PreferredFormat(s.cfg.Conversion.OutputFormat, r.Header.Get("Accept"), s.probe)
	if ok {
		derived := converter.TargetPath(path, f)
		if _, err := os.Stat(derived); err == nil {
			logger.WithFormat(s.log, string(f)).WithField("file", derived).Debug("Serving derived variant")
			w.Header().Set("Content-Type", f.MIME())
			http.ServeFile(w, r, derived)
			return
		}
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) runScanAsync() {
	s.operationMutex.Lock()
	s.isRunning = true
	s.operationMutex.Unlock()

	s.broadcastWSMessage("scan_started", map[string]interface{}{
		"directory": s.lib.Root(),
	})

	summary, pending, err := s.scan.Scan()

	s.operationMutex.Lock()
	s.isRunning = false
	s.operationMutex.Unlock()

	if err != nil {
		s.broadcastWSMessage("scan_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.pending.Set(pending)
	s.broadcastWSMessage("scan_completed", summary)
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			// Remove failed connection
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
