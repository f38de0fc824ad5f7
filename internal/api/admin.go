package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/david/opportunity-scout/internal/ai"
	"github.com/david/opportunity-scout/internal/db"
	"github.com/david/opportunity-scout/internal/ingest"
	"github.com/david/opportunity-scout/internal/models"
	"github.com/david/opportunity-scout/internal/review"
)

func (s *Server) handleListDrafts(c echo.Context) error {
	status := strings.ToLower(strings.TrimSpace(c.QueryParam("status")))
	switch models.DraftStatus(status) {
	case "", models.DraftPending, models.DraftApproved, models.DraftRejected:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be pending, approved or rejected"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	drafts, err := s.Store.ListDrafts(c.Request().Context(), status, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, drafts)
}

func (s *Server) handleApproveDraft(c echo.Context) error {
	var ref review.DraftRef
	if err := c.Bind(&ref); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	out, err := s.Review.Approve(c.Request().Context(), ref, adminIdentity(c))
	if err != nil {
		return reviewError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRejectDraft(c echo.Context) error {
	var ref review.DraftRef
	if err := c.Bind(&ref); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	out, err := s.Review.Reject(c.Request().Context(), ref, adminIdentity(c))
	if err != nil {
		return reviewError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func reviewError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, review.ErrDraftNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, review.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, review.ErrAdminRequired):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

type importRequest struct {
	URL   string `json:"url"`
	Agent string `json:"agent"`
}

func (s *Server) handleImportURL(c echo.Context) error {
	var req importRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url is required"})
	}

	res, err := s.Scanner.ImportURL(c.Request().Context(), req.URL, req.Agent)
	if err != nil {
		var fetchErr *ingest.FetchError
		switch {
		case errors.As(err, &fetchErr):
			return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
		case errors.Is(err, ai.ErrConfiguration):
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		case errors.Is(err, ingest.ErrUnknownAgent):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		var persistErr *ingest.PersistenceError
		if errors.As(err, &persistErr) {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, res)
}

type manualEntryRequest struct {
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Institution string   `json:"institution"`
	Region      string   `json:"region"`
	Deadline    string   `json:"deadline"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Eligibility string   `json:"eligibility"`
	Funding     string   `json:"funding"`
	Tags        []string `json:"tags"`
	SourceURL   string   `json:"source_url"`
	LogoURL     string   `json:"logo_url"`
	Featured    bool     `json:"featured"`
}

// handleCreateOpportunity publishes an admin-entered listing directly. The
// same sanitization as draft approval applies.
func (s *Server) handleCreateOpportunity(c echo.Context) error {
	var req manualEntryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if strings.TrimSpace(req.Title) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "title is required"})
	}
	u, err := url.Parse(strings.TrimSpace(req.SourceURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "a valid source_url is required"})
	}
	req.Deadline = strings.TrimSpace(req.Deadline)
	deadline := ai.NormalizeDeadline(req.Deadline)
	if req.Deadline != "" && deadline == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "deadline must be YYYY-MM-DD"})
	}

	opp := s.Review.Materialize(&models.Draft{
		Title:       req.Title,
		Category:    req.Category,
		Institution: req.Institution,
		Region:      req.Region,
		Deadline:    deadline,
		Summary:     req.Summary,
		Description: req.Description,
		Eligibility: req.Eligibility,
		Funding:     req.Funding,
		Tags:        req.Tags,
		SourceURL:   u.String(),
		LogoURL:     strings.TrimSpace(req.LogoURL),
	})
	opp.Featured = req.Featured

	if err := s.Store.InsertOpportunity(c.Request().Context(), opp); err != nil {
		if errors.Is(err, db.ErrDuplicateSourceURL) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, opp)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.Store.ListScanRuns(c.Request().Context(), c.QueryParam("agent"), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if runs == nil {
		runs = []models.ScanRun{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleListSources(c echo.Context) error {
	sources, err := s.Store.ListSources(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, sources)
}

type registerSourceRequest struct {
	URL      string `json:"url"`
	Label    string `json:"label"`
	Priority *int   `json:"priority"`
}

func (s *Server) handleRegisterSource(c echo.Context) error {
	var req registerSourceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "a valid url is required"})
	}
	priority := db.PromotedSourcePriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	created, err := s.Store.RegisterSource(c.Request().Context(), u.String(), strings.TrimSpace(req.Label), priority)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]any{"url": u.String(), "created": created})
}

func (s *Server) handleSetSourceActive(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid source ID"})
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.Bind(&req); err != nil || req.Active == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "active is required"})
	}
	if err := s.Store.SetSourceActive(c.Request().Context(), id, *req.Active); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "active": *req.Active})
}
