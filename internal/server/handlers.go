package server

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"krishi/internal/assistant"
	krishierrors "krishi/internal/errors"
	"krishi/internal/geo"
	"krishi/internal/logging"
	"krishi/internal/market"
	"krishi/internal/ocr"
	"krishi/internal/session"
	"krishi/internal/shops"
)

const (
	sortByPrice      = "price"
	sortByDistance   = "distance"
	defaultShopLimit = 10
)

func (s *Server) handleChat(c *gin.Context) {
	if s.deps.Chat == nil {
		unavailable(c, "chat")
		return
	}
	var req assistant.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}
	reply, err := s.deps.Chat.Send(c.Request.Context(), req)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, reply)
}

func (s *Server) handleDiagnose(c *gin.Context) {
	if s.deps.Diagnosis == nil {
		unavailable(c, "diagnosis")
		return
	}
	file, filename, err := s.openUpload(c, "image")
	if err != nil {
		fail(c, err, nil)
		return
	}
	defer file.Close()

	withAdvice := true
	if raw := c.PostForm("advice"); raw != "" {
		withAdvice = cast.ToBool(raw)
	}
	result, err := s.deps.Diagnosis.Diagnose(c.Request.Context(), assistant.DiagnosisRequest{
		Filename:   filename,
		Image:      file,
		CropName:   c.PostForm("crop_name"),
		WithAdvice: withAdvice,
	})
	if err != nil {
		var partial any
		if result.Prediction.Label != "" {
			partial = result
		}
		fail(c, err, partial)
		return
	}
	ok(c, result)
}

func (s *Server) handleRecommendCrops(c *gin.Context) {
	if s.deps.Crops == nil {
		unavailable(c, "crop recommendation")
		return
	}
	var field assistant.FieldInput
	if err := c.ShouldBindJSON(&field); err != nil {
		badRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}
	result, err := s.deps.Crops.Recommend(c.Request.Context(), field)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, result)
}

type fertilizerResponse struct {
	assistant.FertilizerResult
	TotalKg float64 `json:"total_kg"`
}

func (s *Server) handleFertilizer(c *gin.Context) {
	if s.deps.Fertilizer == nil {
		unavailable(c, "fertilizer calculator")
		return
	}
	var req assistant.FertilizerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}
	result, err := s.deps.Fertilizer.Calculate(c.Request.Context(), req)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, fertilizerResponse{FertilizerResult: result, TotalKg: result.Plan.TotalKg()})
}

func (s *Server) handleOCR(c *gin.Context) {
	if s.deps.OCR == nil {
		unavailable(c, "ocr")
		return
	}
	file, filename, err := s.openUpload(c, "image")
	if err != nil {
		fail(c, err, nil)
		return
	}
	defer file.Close()

	result, err := s.deps.OCR.Recognize(c.Request.Context(), filename, file, ocr.Options{
		Language: c.PostForm("language"),
		IsTable:  cast.ToBool(c.PostForm("is_table")),
	})
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, result)
}

type marketResponse struct {
	Sort    string     `json:"sort"`
	Origin  *geo.Point `json:"origin,omitempty"`
	Records any        `json:"records"`
}

func (s *Server) handleMarketPrices(c *gin.Context) {
	if s.deps.Market == nil {
		unavailable(c, "market prices")
		return
	}
	sortBy := strings.ToLower(strings.TrimSpace(c.DefaultQuery("sort", sortByPrice)))
	if sortBy != sortByPrice && sortBy != sortByDistance {
		badRequest(c, fmt.Sprintf("sort must be %q or %q", sortByPrice, sortByDistance))
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		fail(c, err, nil)
		return
	}

	ctx := c.Request.Context()
	records, err := s.deps.Market.Fetch(ctx, market.Query{
		State:     c.Query("state"),
		District:  c.Query("district"),
		Commodity: c.Query("commodity"),
		Limit:     limit,
	})
	if err != nil {
		fail(c, err, nil)
		return
	}

	if sortBy == sortByPrice {
		ok(c, marketResponse{Sort: sortBy, Records: nonNil(market.ByModalPrice(records))})
		return
	}
	if s.deps.Geocoder == nil {
		unavailable(c, "geocoding")
		return
	}
	origin, err := s.resolveOrigin(ctx, c)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ranked := market.ByDistance(ctx, records, origin, s.deps.Geocoder, s.config.LocateLimit)
	ok(c, marketResponse{Sort: sortBy, Origin: validOrNil(origin), Records: nonNil(ranked)})
}

func (s *Server) handleWeather(c *gin.Context) {
	if s.deps.Weather == nil {
		unavailable(c, "weather")
		return
	}
	ctx := c.Request.Context()
	origin, err := s.resolveOrigin(ctx, c)
	if err != nil {
		fail(c, err, nil)
		return
	}
	if !origin.Valid() {
		fail(c, fmt.Errorf("%w: location is unknown; pass lat and lon or set the session location", krishierrors.ErrInvalidInput), nil)
		return
	}
	snapshot, err := s.deps.Weather.Snapshot(ctx, origin)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, snapshot)
}

type shopView struct {
	shops.Shop
	Location   geo.Point `json:"location"`
	DistanceKm *float64  `json:"distance_km"`
}

func (s *Server) handleNearbyShops(c *gin.Context) {
	ctx := c.Request.Context()
	origin, err := s.resolveOrigin(ctx, c)
	if err != nil {
		fail(c, err, nil)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		fail(c, err, nil)
		return
	}
	if limit == 0 {
		limit = defaultShopLimit
	}

	ranked := s.deps.Shops.Nearby(origin, limit, c.QueryArray("category")...)
	views := make([]shopView, 0, len(ranked))
	for _, r := range ranked {
		view := shopView{Shop: r.Record, Location: r.Record.Location()}
		if r.HasDistance() {
			d := r.DistanceKm
			view.DistanceKm = &d
		}
		views = append(views, view)
	}
	ok(c, views)
}

func (s *Server) handleGetSession(c *gin.Context) {
	ok(c, s.deps.Session.Snapshot())
}

type locationResponse struct {
	Location *session.Location `json:"location"`
}

func (s *Server) handleGetLocation(c *gin.Context) {
	loc, found := s.deps.Session.Location()
	if !found {
		ok(c, locationResponse{})
		return
	}
	ok(c, locationResponse{Location: &loc})
}

type locationRequest struct {
	Latitude  any    `json:"latitude"`
	Longitude any    `json:"longitude"`
	Place     string `json:"place"`
}

// handlePutLocation accepts coordinates, a place name or both. Coordinates
// without a name are reverse geocoded when a geocoder is configured; a
// failed lookup leaves the name empty.
func (s *Server) handlePutLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request: %v", err))
		return
	}
	ctx := c.Request.Context()
	logger := logging.FromContext(ctx, s.logger)
	place := strings.TrimSpace(req.Place)

	point := geo.Missing()
	if req.Latitude != nil || req.Longitude != nil {
		point = geo.PointFrom(req.Latitude, req.Longitude)
		if !point.Valid() {
			badRequest(c, "latitude and longitude must both be numbers")
			return
		}
	}

	switch {
	case point.Valid() && place == "" && s.deps.Geocoder != nil:
		found, err := s.deps.Geocoder.Reverse(ctx, point)
		if err != nil {
			logger.Warn("reverse geocode %s: %v", point, err)
		} else {
			place = found.Name()
		}
	case !point.Valid() && place != "":
		if s.deps.Geocoder == nil {
			unavailable(c, "geocoding")
			return
		}
		found, err := s.deps.Geocoder.Forward(ctx, place)
		if err != nil {
			fail(c, err, nil)
			return
		}
		point = found
	case !point.Valid():
		badRequest(c, "latitude and longitude or place is required")
		return
	}

	loc := s.deps.Session.SetLocation(point, place)
	ok(c, locationResponse{Location: &loc})
}

// resolveOrigin reads lat/lon or place from the query and falls back to the
// session location. The result may be geo.Missing.
func (s *Server) resolveOrigin(ctx context.Context, c *gin.Context) (geo.Point, error) {
	lat, lon := c.Query("lat"), c.Query("lon")
	if lat != "" || lon != "" {
		point := geo.PointFrom(lat, lon)
		if !point.Valid() {
			return point, fmt.Errorf("%w: lat and lon must both be numbers", krishierrors.ErrInvalidInput)
		}
		return point, nil
	}
	if place := strings.TrimSpace(c.Query("place")); place != "" {
		if s.deps.Geocoder == nil {
			return geo.Missing(), fmt.Errorf("%w: geocoding is not configured", krishierrors.ErrServiceUnavailable)
		}
		return s.deps.Geocoder.Forward(ctx, place)
	}
	return s.deps.Session.Origin(), nil
}

func (s *Server) openUpload(c *gin.Context, field string) (multipart.File, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes+(1<<20))
	header, err := c.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s upload: %v", krishierrors.ErrInvalidInput, field, err)
	}
	if header.Size > s.config.MaxUploadBytes {
		return nil, "", fmt.Errorf("%w: %s is larger than %d bytes", krishierrors.ErrInvalidInput, field, s.config.MaxUploadBytes)
	}
	file, err := header.Open()
	if err != nil {
		return nil, "", fmt.Errorf("%w: open %s: %v", krishierrors.ErrInvalidInput, field, err)
	}
	return file, header.Filename, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", krishierrors.ErrInvalidInput, key)
	}
	return n, nil
}

func validOrNil(p geo.Point) *geo.Point {
	if !p.Valid() {
		return nil
	}
	return &p
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
