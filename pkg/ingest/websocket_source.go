package ingest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/config"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/schema"
)

// WebSocketSource accepts events pushed over WebSocket connections,
// used by internal tooling and replay scripts.
type WebSocketSource struct {
	name      string
	addr      string
	path      string
	server    *http.Server
	upgrader  websocket.Upgrader
	validator *schema.EventValidator
	logger    *zap.Logger
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
}

// NewWebSocketSource creates a WebSocket listener source from config.
func NewWebSocketSource(cfg config.WebSocketSourceConfig, validator *schema.EventValidator, logger *zap.Logger) *WebSocketSource {
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("websocket-%s", cfg.Path)
	}
	return &WebSocketSource{
		name: name,
		addr: cfg.Address,
		path: cfg.Path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // internal network only
			},
		},
		validator: validator,
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Name returns the source name.
func (w *WebSocketSource) Name() string {
	return w.name
}

// Start serves the WebSocket endpoint until the context is cancelled.
func (w *WebSocketSource) Start(ctx context.Context, out chan<- *event.Event) error {
	w.logger.Info("Starting WebSocket source",
		zap.String("source", w.name),
		zap.String("addr", w.addr),
		zap.String("path", w.path))

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, func(rw http.ResponseWriter, r *http.Request) {
		w.handleConnection(ctx, rw, r, out)
	})

	w.server = &http.Server{
		Addr:    w.addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("WebSocket source stopping", zap.String("source", w.name))
		return nil
	case err := <-errCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	}
}

func (w *WebSocketSource) handleConnection(ctx context.Context, rw http.ResponseWriter, r *http.Request, out chan<- *event.Event) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Error("WebSocket upgrade error", zap.Error(err))
		return
	}

	w.clientsMu.Lock()
	w.clients[conn] = true
	w.clientsMu.Unlock()

	w.logger.Info("New WebSocket client connected",
		zap.String("source", w.name),
		zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		w.clientsMu.Lock()
		delete(w.clients, conn)
		w.clientsMu.Unlock()
		conn.Close()
		w.logger.Info("WebSocket client disconnected", zap.String("source", w.name))
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				w.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		ev, err := w.validator.Decode(message)
		if err != nil {
			w.logger.Warn("Skipping malformed event",
				zap.String("source", w.name),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Stop closes client connections and shuts down the listener.
func (w *WebSocketSource) Stop() error {
	w.logger.Info("Stopping WebSocket source", zap.String("source", w.name))

	w.clientsMu.Lock()
	for conn := range w.clients {
		conn.Close()
	}
	w.clientsMu.Unlock()

	if w.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}
