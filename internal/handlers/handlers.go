package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/testerbesterkali/marketer/internal/adapters"
	"github.com/testerbesterkali/marketer/internal/adapters/social"
	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/models"
	"github.com/testerbesterkali/marketer/internal/pipeline"
	"github.com/testerbesterkali/marketer/internal/progress"
	"github.com/testerbesterkali/marketer/internal/publisher"
	"github.com/testerbesterkali/marketer/internal/store"
)

// Stages are the onboarding stage functions behind /functions/*.
type Stages interface {
	AnalyzeBrand(ctx context.Context, workspaceID string) (*models.BrandProfile, error)
	GenerateTopics(ctx context.Context, workspaceID string) ([]models.Topic, error)
	GenerateInitialPosts(ctx context.Context, workspaceID string) (*pipeline.BatchReport, error)
	RegeneratePost(ctx context.Context, postID string) (*models.Post, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) ([]publisher.Result, error)
}

// MetaOAuth is the part of the Graph client the OAuth callback uses.
type MetaOAuth interface {
	ExchangeAuthCode(ctx context.Context, code, redirectURI string) (string, error)
	ListPages(ctx context.Context, userToken string) ([]social.Page, error)
	InstagramBusinessID(ctx context.Context, pageID, pageToken string) (string, error)
}

type Deps struct {
	Store     store.Store
	Stages    Stages
	Sweeper   Sweeper
	Progress  progress.Subscriber
	Meta      MetaOAuth
	Log       *logger.Logger
	PublicURL string
	SiteURL   string
	// InternalWSSecret gates non-loopback websocket clients. Empty allows loopback only.
	InternalWSSecret string
	// StageTimeout bounds a stage function run. Runs are detached from the request.
	StageTimeout time.Duration
}

type Handler struct {
	store    store.Store
	stages   Stages
	sweeper  Sweeper
	bus      progress.Subscriber
	meta     MetaOAuth
	validate *validator.Validate
	log      *logger.Logger

	publicURL    string
	siteURL      string
	wsSecret     string
	stageTimeout time.Duration
}

func New(d Deps) *Handler {
	timeout := d.StageTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Handler{
		store:        d.Store,
		stages:       d.Stages,
		sweeper:      d.Sweeper,
		bus:          d.Progress,
		meta:         d.Meta,
		validate:     validator.New(),
		log:          logger.OrNop(d.Log).With("component", "API"),
		publicURL:    d.PublicURL,
		siteURL:      d.SiteURL,
		wsSecret:     d.InternalWSSecret,
		stageTimeout: timeout,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var verr validator.ValidationErrors
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case pipeline.IsPrecondition(err):
		return http.StatusPreconditionFailed
	case pipeline.IsUpstream(err), errors.Is(err, adapters.ErrTimeout):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.log.Error("request_failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}
