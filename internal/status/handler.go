package status

import (
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/thermalctl/internal/controller"
	"codeberg.org/mutker/thermalctl/internal/curve"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/thermal"
	"github.com/gin-gonic/gin"
)

// Source is the read-only view of a running controller.
type Source interface {
	Snapshot() *thermal.Snapshot
	Table() curve.Table
	Flags() *controller.Flags
}

type Handler struct {
	source    Source
	hub       *Hub
	logger    logger.Logger
	closing   chan struct{}
	closeOnce sync.Once
}

func NewHandler(source Source, hub *Hub, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Get()
	}
	return &Handler{
		source:  source,
		hub:     hub,
		logger:  log,
		closing: make(chan struct{}),
	}
}

// Close ends all websocket streams. http.Server.Shutdown does not track
// hijacked connections.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.closing)
	})
}

type statusResponse struct {
	Snapshot        *thermal.Snapshot `json:"snapshot"`
	EmergencyActive bool              `json:"emergency_active"`
	SleepModeActive bool              `json:"sleep_mode_active"`
	StopRequested   bool              `json:"stop_requested"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// InitRoutes builds the gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger)

	router.GET("/healthz", h.health)

	api := router.Group("/api/v1")
	{
		api.GET("/status", h.getStatus)
		api.GET("/curve", h.getCurve)
		api.GET("/ws", h.wsConnect)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	})

	return router
}

func (h *Handler) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()

	h.logger.Debug().
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Int("status", c.Writer.Status()).
		Dur("took", time.Since(start)).
		Msg("HTTP request")
}

// health reports 503 until the first successful reading and while the
// sensor is failing.
func (h *Handler) health(c *gin.Context) {
	snapshot := h.source.Snapshot()

	switch {
	case snapshot == nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
	case snapshot.SensorFailed:
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "sensor_failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (h *Handler) getStatus(c *gin.Context) {
	flags := h.source.Flags()

	c.JSON(http.StatusOK, statusResponse{
		Snapshot:        h.source.Snapshot(),
		EmergencyActive: flags.EmergencyActive(),
		SleepModeActive: flags.SleepModeActive(),
		StopRequested:   flags.StopRequested(),
	})
}

func (h *Handler) getCurve(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"points": h.source.Table()})
}
