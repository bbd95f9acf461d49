// Package server exposes the farming assistant over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"krishi/internal/assistant"
	"krishi/internal/classifier"
	krishierrors "krishi/internal/errors"
	"krishi/internal/geo"
	"krishi/internal/geocode"
	"krishi/internal/httpclient"
	"krishi/internal/logging"
	"krishi/internal/market"
	"krishi/internal/ocr"
	"krishi/internal/session"
	"krishi/internal/shops"
	"krishi/internal/weather"
)

// ChatService answers free-form questions.
type ChatService interface {
	Send(ctx context.Context, req assistant.ChatRequest) (assistant.ChatReply, error)
}

// DiagnosisService classifies leaf photos.
type DiagnosisService interface {
	Diagnose(ctx context.Context, req assistant.DiagnosisRequest) (assistant.DiagnosisResult, error)
}

// CropService recommends crops for a field.
type CropService interface {
	Recommend(ctx context.Context, field assistant.FieldInput) (assistant.CropResult, error)
}

// FertilizerService plans fertilizer doses.
type FertilizerService interface {
	Calculate(ctx context.Context, req assistant.FertilizerRequest) (assistant.FertilizerResult, error)
}

// WeatherService reports conditions around a point.
type WeatherService interface {
	Snapshot(ctx context.Context, point geo.Point) (weather.Snapshot, error)
}

// MarketService lists mandi prices.
type MarketService interface {
	Fetch(ctx context.Context, q market.Query) ([]market.Record, error)
}

// Geocoder resolves place names and coordinates. It also locates markets.
type Geocoder interface {
	market.Locator
	Forward(ctx context.Context, place string) (geo.Point, error)
	Reverse(ctx context.Context, point geo.Point) (geocode.Place, error)
}

// OCRService reads text from images.
type OCRService interface {
	Recognize(ctx context.Context, filename string, image io.Reader, opts ocr.Options) (ocr.Result, error)
}

// Deps are the collaborators behind the routes. A nil collaborator makes
// its routes answer 503.
type Deps struct {
	Chat       ChatService
	Diagnosis  DiagnosisService
	Crops      CropService
	Fertilizer FertilizerService
	Weather    WeatherService
	Market     MarketService
	Geocoder   Geocoder
	OCR        OCRService
	Shops      *shops.Catalog
	Session    *session.State
	Gatherer   prometheus.Gatherer
	Breakers   func() []krishierrors.BreakerStatus
	Logger     logging.Logger
}

// Config tunes the listener and the request limits. LocateLimit caps the
// geocoder lookups of one distance-sorted market query.
type Config struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	LocateLimit     int
	Debug           bool
}

// Server is the HTTP front of the assistant.
type Server struct {
	config     Config
	deps       Deps
	logger     logging.Logger
	engine     *gin.Engine
	httpServer *http.Server
	startTime  time.Time
}

// New builds the engine and registers every route.
func New(config Config, deps Deps) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = classifier.MaxImageBytes
	}
	if config.LocateLimit <= 0 {
		config.LocateLimit = 25
	}
	if deps.Session == nil {
		deps.Session = session.New()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Breakers == nil {
		deps.Breakers = httpclient.BreakerStatuses
	}
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("server")
	}

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.MaxMultipartMemory = config.MaxUploadBytes
	engine.Use(recovery(logger))
	engine.Use(requestLog(logger))

	corsConfig := cors.DefaultConfig()
	if len(config.CORSOrigins) == 0 || (len(config.CORSOrigins) == 1 && config.CORSOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", logIDHeader}
	corsConfig.ExposeHeaders = []string{logIDHeader}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		engine:    engine,
		startTime: time.Now(),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	api.POST("/chat", s.handleChat)
	api.POST("/diagnose", s.handleDiagnose)
	api.POST("/crops/recommend", s.handleRecommendCrops)
	api.POST("/fertilizer", s.handleFertilizer)
	api.POST("/ocr", s.handleOCR)
	api.GET("/market/prices", s.handleMarketPrices)
	api.GET("/weather", s.handleWeather)
	api.GET("/shops/nearby", s.handleNearbyShops)

	sess := api.Group("/session")
	{
		sess.GET("", s.handleGetSession)
		sess.GET("/location", s.handleGetLocation)
		sess.PUT("/location", s.handlePutLocation)
	}
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", s.config.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", s.config.Addr, err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status        string                       `json:"status"`
	Uptime        string                       `json:"uptime"`
	Collaborators []krishierrors.BreakerStatus `json:"collaborators"`
}

// handleHealth answers 200 even when a collaborator circuit is open; the
// status turns "degraded" so monitors can tell the difference.
func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status:        "ok",
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		Collaborators: s.deps.Breakers(),
	}
	for _, collaborator := range resp.Collaborators {
		if collaborator.State != krishierrors.StateClosed.String() {
			resp.Status = "degraded"
		}
	}
	ok(c, resp)
}
