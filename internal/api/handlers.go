package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/pawdentify/internal/breedimages"
	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/classifier"
	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/imageprovider"
)

// HealthResponse reports service status and source availability
type HealthResponse struct {
	Status        string                       `json:"status"`
	Version       string                       `json:"version"`
	BuildDate     string                       `json:"build_date"`
	Uptime        string                       `json:"uptime"`
	UptimeSeconds float64                      `json:"uptime_seconds"`
	Timestamp     string                       `json:"timestamp"`
	Sources       []imageprovider.SourceStatus `json:"sources"`
	CacheEntries  int                          `json:"cache_entries"`
}

// MultiBreedRequest asks for a mixed gallery
type MultiBreedRequest struct {
	Breeds  []classifier.Candidate `json:"breeds"`
	Options *breedimages.Options   `json:"options,omitempty"`
}

// ClearResponse reports how many entries a clear removed
type ClearResponse struct {
	Breed   string `json:"breed,omitempty"`
	Removed int    `json:"removed"`
}

// healthCheck handles GET /health. ?probe=true checks source reachability.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	sources := s.sourceStatus(c.Request().Context(), c.QueryParam("probe") == "true")

	status := "degraded"
	for _, src := range sources {
		if src.Available && (src.Reachable == nil || *src.Reachable) {
			status = "healthy"
			break
		}
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:        status,
		Version:       s.build.Version(),
		BuildDate:     s.build.BuildDate(),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     time.Now().Format(time.RFC3339),
		Sources:       sources,
		CacheEntries:  s.service.Stats().Entries,
	})
}

const reachabilityKey = "sources"

// sourceStatus returns source availability. Reachability results are reused for
// reachabilityTTL so health polling does not spend upstream request budget.
func (s *Server) sourceStatus(ctx context.Context, checkReach bool) []imageprovider.SourceStatus {
	if !checkReach {
		return s.service.SourceStatus(ctx, false)
	}
	if cached, ok := s.reachability.Get(reachabilityKey); ok {
		if sources, ok := cached.([]imageprovider.SourceStatus); ok {
			return sources
		}
	}
	sources := s.service.SourceStatus(ctx, true)
	s.reachability.SetDefault(reachabilityKey, sources)
	return sources
}

func (s *Server) listBreeds(c echo.Context) error {
	records := s.service.SearchBreeds(c.QueryParam("q"))
	if records == nil {
		records = []breeds.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

// bindOptions reads image options from the query string on top of defaults
func bindOptions(c echo.Context) (breedimages.Options, error) {
	opts := breedimages.DefaultOptions()
	err := echo.QueryParamsBinder(c).
		Int("count", &opts.ImageCount).
		Bool("quality", &opts.PrioritizeQuality).
		Bool("fallbacks", &opts.IncludeFallbacks).
		Bool("refresh", &opts.ForceRefresh).
		BindError()
	if err != nil {
		return opts, errors.New(err).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return opts, nil
}

// respondResult writes a gallery, mapping a failed result to an error status
func (s *Server) respondResult(c echo.Context, res breedimages.Result, message string) error {
	if !res.Success {
		return s.handleError(c, res.Err, message, statusFor(res.Err))
	}
	return c.JSON(http.StatusOK, res)
}

// getBreedImages handles GET /breeds/:name/images
func (s *Server) getBreedImages(c echo.Context) error {
	name, err := url.PathUnescape(c.Param("name"))
	if err != nil || strings.TrimSpace(name) == "" {
		return s.handleError(c, err, "invalid breed name", http.StatusBadRequest)
	}

	opts, err := bindOptions(c)
	if err != nil {
		return s.handleError(c, err, "invalid query parameters", http.StatusBadRequest)
	}

	res := s.service.FetchBreedImages(c.Request().Context(), name, opts)
	return s.respondResult(c, res, "failed to fetch breed images")
}

// getMultiBreedImages handles POST /breeds/images
func (s *Server) getMultiBreedImages(c echo.Context) error {
	var req MultiBreedRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, err, "invalid request body", http.StatusBadRequest)
	}
	if len(req.Breeds) == 0 {
		return s.handleError(c, nil, "at least one breed is required", http.StatusBadRequest)
	}

	opts := breedimages.DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	res := s.service.FetchMultiBreed(c.Request().Context(), req.Breeds, opts)
	return s.respondResult(c, res, "failed to fetch breed images")
}

// identify handles POST /identify with a multipart "file" upload
func (s *Server) identify(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return s.handleError(c, err, "an image file is required in field \"file\"", http.StatusBadRequest)
	}

	opts, err := bindOptions(c)
	if err != nil {
		return s.handleError(c, err, "invalid query parameters", http.StatusBadRequest)
	}

	f, err := fh.Open()
	if err != nil {
		return s.handleError(c, err, "failed to read upload", http.StatusBadRequest)
	}
	defer func() { _ = f.Close() }()

	res := s.service.Identify(c.Request().Context(), f, fh.Filename, opts)
	return s.respondResult(c, res, "failed to identify breed")
}

// preload handles POST /preload
func (s *Server) preload(c echo.Context) error {
	var req breedimages.PreloadRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, err, "invalid request body", http.StatusBadRequest)
	}
	if len(req.Breeds) == 0 {
		return s.handleError(c, nil, "at least one breed is required", http.StatusBadRequest)
	}

	report := s.service.Preload(c.Request().Context(), req)
	return c.JSON(http.StatusOK, report)
}

func (s *Server) cacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.Stats())
}

// clearCache handles DELETE /cache
func (s *Server) clearCache(c echo.Context) error {
	before := s.service.Stats().Entries
	s.service.ClearCache(c.Request().Context())
	return c.JSON(http.StatusOK, ClearResponse{Removed: before})
}

// clearBreed handles DELETE /cache/:breed
func (s *Server) clearBreed(c echo.Context) error {
	name, err := url.PathUnescape(c.Param("breed"))
	if err != nil {
		return s.handleError(c, err, "invalid breed name", http.StatusBadRequest)
	}

	removed, err := s.service.ClearBreed(name)
	if err != nil {
		return s.handleError(c, err, "failed to clear breed", statusFor(err))
	}
	return c.JSON(http.StatusOK, ClearResponse{Breed: name, Removed: removed})
}
