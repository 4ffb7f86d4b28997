// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/internal/layout"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// ExtractResponse is the body for POST /extract.
type ExtractResponse struct {
	Success       bool              `json:"success"`
	Data          map[string]string `json:"data"`
	MethodUsed    string            `json:"method_used"`
	Confidence    float64           `json:"confidence"`
	CacheHit      bool              `json:"cache_hit"`
	CacheTier     string            `json:"cache_tier,omitempty"`
	MissingFields []string          `json:"missing_fields"`
	OracleCalled  bool              `json:"oracle_called"`
	ProcessingMS  int64             `json:"processing_ms"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// ClearResponse is the body for POST /cache/clear.
type ClearResponse struct {
	Status string `json:"status"`
}

// InvalidateResponse is the body for DELETE /documents/:hash.
type InvalidateResponse struct {
	Removed int64 `json:"removed"`
}

// handleExtract accepts a multipart form with the document under "file",
// its "label", and the "fields" schema, and runs the pipeline on it.
func (s *Server) handleExtract(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	label := strings.TrimSpace(c.FormValue("label"))
	if label == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "label is required")
	}
	fields, err := parseFields(c.FormValue("fields"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading upload: "+err.Error())
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading upload: "+err.Error())
	}
	if len(content) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded file is empty")
	}

	req := types.ExtractRequest{Label: label, Fields: fields}
	if layout.IsElementsFile(fileHeader.Filename) {
		elements, err := layout.ParseElements(content)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "parsing elements file: "+err.Error())
		}
		req.Elements = elements
	} else {
		req.Content = content
	}

	result, err := s.pipeline.Extract(c.Request().Context(), req)
	if err != nil {
		s.logger.Warn("extraction rejected",
			zap.String("label", label),
			zap.String("file", fileHeader.Filename),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	return c.JSON(http.StatusOK, ExtractResponse{
		Success:       true,
		Data:          result.Fields,
		MethodUsed:    string(result.MethodUsed),
		Confidence:    result.Confidence,
		CacheHit:      result.CacheHit,
		CacheTier:     result.CacheTier,
		MissingFields: result.MissingFields,
		OracleCalled:  result.OracleCalled,
		ProcessingMS:  result.ProcessingMillis,
	})
}

// handleHealth reports whether the persistent stores are reachable.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status: "healthy",
		Components: map[string]string{
			"cache":     "ok",
			"templates": "ok",
		},
	}
	if err := s.cache.Ping(); err != nil {
		resp.Status = "degraded"
		resp.Components["cache"] = "unavailable"
	}
	if _, err := s.templates.Count(c.Request().Context()); err != nil {
		resp.Status = "degraded"
		resp.Components["templates"] = "unavailable"
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// handleStats returns the pipeline's aggregated counters.
func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.pipeline.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// handleCacheClear empties every cache tier.
func (s *Server) handleCacheClear(c echo.Context) error {
	if err := s.cache.Clear(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.logger.Info("cache cleared")
	return c.JSON(http.StatusOK, ClearResponse{Status: "cleared"})
}

// handleInvalidateDocument removes all cached entries for one document.
func (s *Server) handleInvalidateDocument(c echo.Context) error {
	hash := c.Param("hash")
	removed, err := s.cache.InvalidateDocument(hash)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.logger.Info("document invalidated", zap.String("doc", hash), zap.Int64("removed", removed))
	return c.JSON(http.StatusOK, InvalidateResponse{Removed: removed})
}

// parseFields accepts the schema in any of three forms: a JSON object of
// name to description, a JSON array of specs or names, or a comma list of
// names.
func parseFields(raw string) ([]types.FieldSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("fields are required")
	}

	var fields []types.FieldSpec
	switch {
	case strings.HasPrefix(raw, "{"):
		var byName map[string]string
		if err := json.Unmarshal([]byte(raw), &byName); err != nil {
			return nil, fmt.Errorf("parsing fields object: %w", err)
		}
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fields = append(fields, types.FieldSpec{Name: name, Description: byName[name]})
		}

	case strings.HasPrefix(raw, "["):
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			// A failed decode can leave zero-value specs behind.
			fields = nil
			var names []string
			if err := json.Unmarshal([]byte(raw), &names); err != nil {
				return nil, fmt.Errorf("parsing fields array: %w", err)
			}
			for _, name := range names {
				fields = append(fields, types.FieldSpec{Name: name})
			}
		}

	default:
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				fields = append(fields, types.FieldSpec{Name: name})
			}
		}
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("fields are required")
	}
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("every field needs a name")
		}
	}
	return fields, nil
}
