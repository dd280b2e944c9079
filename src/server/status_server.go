package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chainflow/src/logger"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// StatusServer
//
// Read-only surface for the external dashboard: REST endpoints for health
// and the latest chain signals, plus a websocket hub that streams finalized
// candles and signals as they happen.
// -----------------------------------------------------------------------------

type StatusServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	engine *gin.Engine
	http   *http.Server

	// WebSocket clients
	clients    map[*Client]struct{}
	broadcast  chan interface{}
	register   chan *Client
	unregister chan *Client

	// Local cache for the REST endpoints
	stateMutex sync.RWMutex
	health     map[string]models.MHealthSnapshot
	signals    map[string]models.MChainSignal // keyed symbol|timeframe
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewStatusServer(cfg *models.MConfig, log *logger.Logger) *StatusServer {
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &StatusServer{
		Config:     cfg,
		Logger:     log,
		engine:     gin.Default(),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan interface{}, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		health:     make(map[string]models.MHealthSnapshot),
		signals:    make(map[string]models.MChainSignal),
	}

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------

func (s *StatusServer) setupRoutes() {
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/signals", s.getSignals)
	s.engine.GET("/api/config", s.getConfig)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// REST handlers
// -----------------------------------------------------------------------------

func (s *StatusServer) getHealth(c *gin.Context) {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()

	snapshots := make([]models.MHealthSnapshot, 0, len(s.health))
	for _, snap := range s.health {
		snapshots = append(snapshots, snap)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"timestamp":  time.Now().UTC(),
		"connectors": snapshots,
	})
}

func (s *StatusServer) getSignals(c *gin.Context) {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()

	signals := make([]models.MChainSignal, 0, len(s.signals))
	for _, sig := range s.signals {
		signals = append(signals, sig)
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *StatusServer) getConfig(c *gin.Context) {
	// Credentials never leave the process.
	c.JSON(http.StatusOK, gin.H{
		"name":               s.Config.Name,
		"connector":          s.Config.Connector,
		"dispatch_interval":  s.Config.Dispatch.IntervalSeconds,
		"timeframe_networks": s.Config.Networks,
	})
}

// -----------------------------------------------------------------------------
// State updates (called by the supervisor)
// -----------------------------------------------------------------------------

// UpdateHealth stores the latest snapshot for one connector.
func (s *StatusServer) UpdateHealth(snap models.MHealthSnapshot) {
	s.stateMutex.Lock()
	s.health[snap.Source] = snap
	s.stateMutex.Unlock()
}

// PublishSignal stores and broadcasts a chain signal.
func (s *StatusServer) PublishSignal(signal models.MChainSignal) {
	s.stateMutex.Lock()
	s.signals[signal.Symbol+"|"+signal.Timeframe] = signal
	s.stateMutex.Unlock()

	s.Broadcast(map[string]interface{}{
		"type":   "SIGNAL",
		"signal": signal,
	})
}

// PublishRecord broadcasts a finalized record.
func (s *StatusServer) PublishRecord(symbol, timeframeLabel string, record models.MRecord) {
	s.Broadcast(map[string]interface{}{
		"type":      "RECORD",
		"symbol":    symbol,
		"timeframe": timeframeLabel,
		"record":    record,
	})
}

// Broadcast queues a payload for all websocket clients; a full queue drops
// the payload rather than blocking the pipeline.
func (s *StatusServer) Broadcast(payload interface{}) {
	select {
	case s.broadcast <- payload:
	default:
		s.Logger.Debug("Broadcast queue full, dropping payload")
	}
}

// -----------------------------------------------------------------------------
// Hub loop
// -----------------------------------------------------------------------------

func (s *StatusServer) handleHub() {
	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}

		case message := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					// Client too slow, disconnect to prevent hub blocking
					delete(s.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------
// WebSocket upgrade
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *StatusServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		send: make(chan interface{}, 64),
	}
	s.register <- client

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func (s *StatusServer) Start() error {
	go s.handleHub()

	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	s.Logger.Info("Status server listening on %s", addr)

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *StatusServer) Stop() error {
	if s.http == nil {
		return nil
	}
	return s.http.Close()
}
