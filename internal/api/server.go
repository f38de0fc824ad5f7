package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/david/opportunity-scout/internal/ai"
	"github.com/david/opportunity-scout/internal/auth"
	"github.com/david/opportunity-scout/internal/db"
	"github.com/david/opportunity-scout/internal/ingest"
	"github.com/david/opportunity-scout/internal/models"
	"github.com/david/opportunity-scout/internal/notify"
	"github.com/david/opportunity-scout/internal/review"
)

// Store is the persistence surface the handlers use. *db.Store implements it.
type Store interface {
	ListOpportunities(ctx context.Context, params db.ListParams) (*db.ListResult, error)
	GetOpportunityBySlug(ctx context.Context, slug string) (*models.Opportunity, error)
	InsertOpportunity(ctx context.Context, o *models.Opportunity) error
	GetStats(ctx context.Context) (*db.Stats, error)
	ListDrafts(ctx context.Context, status string, limit, offset int) ([]models.Draft, error)
	ListSources(ctx context.Context) ([]models.Source, error)
	RegisterSource(ctx context.Context, sourceURL, label string, priority int) (bool, error)
	SetSourceActive(ctx context.Context, id int64, active bool) error
	ListScanRuns(ctx context.Context, agent string, limit int) ([]models.ScanRun, error)
	SaveOpportunity(ctx context.Context, userID, oppID uuid.UUID) error
	UnsaveOpportunity(ctx context.Context, userID, oppID uuid.UUID) error
	GetSavedOpportunities(ctx context.Context, userID uuid.UUID) ([]models.Opportunity, error)
	Subscribe(ctx context.Context, email string, oppID uuid.UUID, daysBefore int) (*models.ReminderSubscription, error)
}

// Scanner runs scans and manual imports. *ingest.Orchestrator implements it.
type Scanner interface {
	Run(ctx context.Context, agentName string) (*ingest.RunResult, error)
	ImportURL(ctx context.Context, rawURL, agentName string) (*ingest.ImportResult, error)
}

// ReminderSender is implemented by *notify.Reminders.
type ReminderSender interface {
	SendDue(ctx context.Context) (*notify.ReminderResult, error)
}

// Options carries the secrets and origins read from configuration.
type Options struct {
	CronSecret  string
	AdminSecret string
	CORSOrigins []string
}

// Deps are the collaborators the handlers call. Embedder and Reminders may
// be nil.
type Deps struct {
	Store     Store
	Auth      *auth.Service
	Review    *review.Service
	Scanner   Scanner
	Reminders ReminderSender
	Embedder  ai.Embedder
}

type Server struct {
	Deps
	Echo *echo.Echo

	opts Options
}

const (
	adminIdentityKey = "admin_identity"
	cronUserAgent    = "vercel-cron"
)

// NewServer wires the routes. Every dependency is constructed by the caller.
func NewServer(deps Deps, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{Deps: deps, Echo: e, opts: opts}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api")

	cron := api.Group("/cron")
	cron.Use(s.cronMiddleware)
	cron.GET("/scan", s.handleCronScan)
	cron.GET("/reminders", s.handleCronReminders)

	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/opportunities/:slug", s.handleGetOpportunity)
	api.POST("/opportunities/:id/subscribe", s.handleSubscribe)

	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	saved := api.Group("/saved")
	saved.Use(s.Auth.Middleware)
	saved.GET("", s.handleGetSavedOpportunities)
	saved.POST("/:id", s.handleSaveOpportunity)
	saved.DELETE("/:id", s.handleUnsaveOpportunity)

	admin := api.Group("/admin")
	admin.Use(s.adminMiddleware)
	admin.POST("/scan", s.handleCronScan)
	admin.GET("/runs", s.handleListRuns)
	admin.GET("/drafts", s.handleListDrafts)
	admin.POST("/drafts/approve", s.handleApproveDraft)
	admin.POST("/drafts/reject", s.handleRejectDraft)
	admin.POST("/import", s.handleImportURL)
	admin.POST("/opportunities", s.handleCreateOpportunity)
	admin.GET("/stats", s.handleGetStats)
	admin.GET("/sources", s.handleListSources)
	admin.POST("/sources", s.handleRegisterSource)
	admin.PATCH("/sources/:id", s.handleSetSourceActive)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// cronMiddleware accepts an exact bearer match against the cron secret. When
// no secret is configured, a request from the platform scheduler is accepted
// by user agent instead.
func (s *Server) cronMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.CronSecret != "" {
			token, ok := auth.BearerToken(c.Request().Header.Get("Authorization"))
			if ok && secretEqual(token, s.opts.CronSecret) {
				return next(c)
			}
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		if strings.Contains(strings.ToLower(c.Request().UserAgent()), cronUserAgent) {
			return next(c)
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
}

// adminMiddleware accepts the admin secret (X-Admin-Secret or bearer) or a
// session token with the admin role, and records who is acting.
func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if secret := s.opts.AdminSecret; secret != "" {
			if h := req.Header.Get("X-Admin-Secret"); h != "" && secretEqual(h, secret) {
				c.Set(adminIdentityKey, "admin-secret")
				return next(c)
			}
		}

		token, ok := auth.BearerToken(req.Header.Get("Authorization"))
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
		}
		if s.opts.AdminSecret != "" && secretEqual(token, s.opts.AdminSecret) {
			c.Set(adminIdentityKey, "admin-secret")
			return next(c)
		}
		if s.Auth != nil {
			if claims, err := s.Auth.ParseToken(token); err == nil {
				if !claims.IsAdmin() {
					return c.JSON(http.StatusForbidden, map[string]string{"error": "Admin role required"})
				}
				c.Set(adminIdentityKey, claims.Email)
				return next(c)
			}
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func adminIdentity(c echo.Context) string {
	id, _ := c.Get(adminIdentityKey).(string)
	return id
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// splitCSV splits a comma-separated query parameter into trimmed non-empty strings.
func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
