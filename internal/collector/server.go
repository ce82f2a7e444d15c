package collector

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/vortigont/pzem-edl/pkg/pool"
	"github.com/vortigont/pzem-edl/pkg/pzem"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// meterSnapshot is the wire shape served at /meters and pushed over /ws.
type meterSnapshot struct {
	ID      string  `json:"id"`
	Addr    uint8   `json:"addr"`
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
	Power   float64 `json:"power"`
	Energy  float64 `json:"energy"`
	Stale   bool    `json:"stale"`
}

// Server exposes the pool's latest readings over HTTP and broadcasts every
// pool.UpdateEvent to connected WebSocket clients, mirroring the teacher's
// echo-based internal/server with a /ws route added the way the
// NotCoffee418 example broadcasts live P1 readings to its clients.
type Server struct {
	httpLog bool
	pool    *pool.Pool
	log     *zap.Logger

	wsMu      sync.RWMutex
	wsClients map[*websocket.Conn]bool
}

// New creates the status API Server; HTTPServer wraps it in an
// *http.Server. httpLog enables
// the echo request logger middleware, matching the teacher's cfg.HttpLog
// toggle in internal/server.Server.
func New(p *pool.Pool, httpLog bool, log *zap.Logger) *Server {
	return &Server{
		httpLog:   httpLog,
		pool:      p,
		log:       log.Named("collector.server"),
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// HTTPServer wraps s's routes in an *http.Server with the same
// Idle/Read/WriteTimeout values the teacher's internal/server.NewServer
// applies.
func (s *Server) HTTPServer(port uint) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.registerRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (s *Server) registerRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.healthCheckHandler)
	e.GET("/meters", s.listMetersHandler)
	e.GET("/meters/:id", s.getMeterHandler)
	e.GET("/ws", s.wsHandler)

	return e
}

func (s *Server) healthCheckHandler(c echo.Context) error {
	return c.String(http.StatusOK, "health_check: OK")
}

func (s *Server) listMetersHandler(c echo.Context) error {
	snap, err := s.pool.Snapshot(c.Request().Context())
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "snapshot failed")
	}
	out := make([]meterSnapshot, 0, len(snap))
	for id, m := range snap {
		out = append(out, toSnapshot(id, m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getMeterHandler(c echo.Context) error {
	id := c.Param("id")
	m, err := s.pool.GetMeter(c.Request().Context(), id)
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "lookup failed")
	}
	if m == nil {
		return c.String(http.StatusNotFound, "no such meter")
	}
	return c.JSON(http.StatusOK, toSnapshot(id, m))
}

// wsHandler upgrades the connection and registers it for broadcast; it
// blocks reading (and discarding) client frames purely to detect
// disconnects, the same idle-read pattern the NotCoffee418 example uses
// for its own /ws handler.
func (s *Server) wsHandler(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	s.addClient(conn)
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (s *Server) addClient(conn *websocket.Conn) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	s.wsClients[conn] = true
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	delete(s.wsClients, conn)
	conn.Close()
}

// Broadcast pushes evt to every connected WebSocket client. It is meant
// to be registered with pool.Pool.Subscribe.
func (s *Server) Broadcast(evt pool.UpdateEvent) {
	if evt.Err != nil || evt.Meter == nil {
		return
	}
	payload := toSnapshot(evt.MeterID, evt.Meter)

	s.wsMu.RLock()
	defer s.wsMu.RUnlock()
	for conn := range s.wsClients {
		if err := conn.WriteJSON(payload); err != nil {
			s.log.Debug("ws write failed, dropping client", zap.Error(err))
			go s.removeClient(conn)
		}
	}
}

// Shutdown closes every live WebSocket connection. It does not stop the
// underlying http.Server; callers shut that down separately (typically
// via http.Server.Shutdown with a deadline context).
func (s *Server) Shutdown(ctx context.Context) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
}

func toSnapshot(id string, m *pzem.Meter) meterSnapshot {
	snap := meterSnapshot{ID: id, Addr: m.Addr()}
	state := m.GetState()
	snap.Stale = state.LastErr != nil || time.Since(time.UnixMilli(state.UpdatedAt)) > staleAfter
	if metrics := m.GetMetrics(); metrics != nil {
		snap.Voltage = metrics.Voltage()
		snap.Current = metrics.Current()
		snap.Power = metrics.Power()
		snap.Energy = metrics.Energy()
	}
	return snap
}

// staleAfter marks a meter stale in status responses once its last
// successful update is older than this; it is a display hint only, not
// used anywhere in the polling logic itself.
const staleAfter = 10 * time.Second
