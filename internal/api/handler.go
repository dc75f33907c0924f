package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-quake-forecast/internal/forecast"
	internalgrpc "github.com/mr1hm/go-quake-forecast/internal/grpc"
	"github.com/mr1hm/go-quake-forecast/internal/models"
	"github.com/mr1hm/go-quake-forecast/internal/readmodel"
)

// Views is the read side the handlers serve from.
type Views interface {
	Dashboard(ctx context.Context) (readmodel.Dashboard, error)
	Recent(ctx context.Context, q readmodel.RecentQuery) ([]models.Payload, error)
	Alerts(ctx context.Context) ([]models.Payload, error)
	Predictions(ctx context.Context) ([]models.Payload, error)
	AcknowledgeAlerts(ctx context.Context, ids []string) (int64, error)
}

type Handler struct {
	views       Views
	broadcaster *internalgrpc.Broadcaster
	runner      forecast.Runner
	upgrader    websocket.Upgrader
}

// NewHandler wires the HTTP surface. runner may be nil when forecasting is
// disabled; the trigger endpoint then answers 503.
func NewHandler(views Views, broadcaster *internalgrpc.Broadcaster, runner forecast.Runner) *Handler {
	return &Handler{
		views:       views,
		broadcaster: broadcaster,
		runner:      runner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/api/dashboard", h.getDashboard)
	r.GET("/api/earthquakes", h.getEarthquakes)
	r.GET("/api/alerts", h.getAlerts)
	r.POST("/api/alerts/ack", h.acknowledgeAlerts)
	r.GET("/api/predictions", h.getPredictions)
	r.POST("/api/forecasts/run", h.runForecast)

	r.GET("/ws/earthquakes", h.streamEarthquakes)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getDashboard(c *gin.Context) {
	d, err := h.views.Dashboard(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dashboard data unavailable"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// getEarthquakes returns observed events as GeoJSON. Query params: hours
// (1-168, default 24), min_magnitude, limit (1-500, default 100).
func (h *Handler) getEarthquakes(c *gin.Context) {
	q := readmodel.RecentQuery{
		Window: readmodel.DefaultRecentWindow,
		Limit:  100,
	}
	if v := c.Query("hours"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 && hours <= 168 {
			q.Window = time.Duration(hours) * time.Hour
		}
	}
	if v := c.Query("min_magnitude"); v != "" {
		if mag, err := strconv.ParseFloat(v, 64); err == nil && mag >= 0 {
			q.MinMagnitude = mag
		}
	}
	if v := c.Query("limit"); v != "" {
		if lim, err := strconv.Atoi(v); err == nil && lim > 0 && lim <= 500 {
			q.Limit = lim
		}
	}

	events, err := h.views.Recent(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to fetch earthquakes"})
		return
	}

	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, toGeoJSON(events))
}

func (h *Handler) getAlerts(c *gin.Context) {
	alerts, err := h.views.Alerts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to fetch alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

type ackRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,max=500"`
}

func (h *Handler) acknowledgeAlerts(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids must be a non-empty list"})
		return
	}

	n, err := h.views.AcknowledgeAlerts(c.Request.Context(), req.IDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acknowledge alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": n})
}

func (h *Handler) getPredictions(c *gin.Context) {
	preds, err := h.views.Predictions(c.Request.Context())
	if err != nil {
		// The dashboard renders an empty forecast rather than an error page.
		c.JSON(http.StatusOK, gin.H{"predictions": []models.Payload{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": preds})
}

// runForecast triggers one forecast run and reports how it ended.
func (h *Handler) runForecast(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "forecasting is disabled"})
		return
	}

	res, err := h.runner.Run(c.Request.Context())
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"run_id":   res.RunID,
			"started":  res.Started.Format(time.RFC3339),
			"deleted":  res.Deleted,
			"inserted": res.Inserted,
		})
		return
	}

	stage, _ := forecast.StageOf(err)
	body := gin.H{"error": err.Error(), "stage": stage, "ran": stage.Ran()}
	switch {
	case errors.Is(err, forecast.ErrRunInProgress), errors.Is(err, forecast.ErrConcurrentRunDetected):
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, forecast.ErrInsufficientHistory):
		c.JSON(http.StatusUnprocessableEntity, body)
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}
