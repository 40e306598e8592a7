package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/navguard/internal/controller"
	"github.com/dgnsrekt/navguard/internal/navstate"
	"github.com/dgnsrekt/navguard/internal/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	ListTabs(ctx context.Context) ([]navstate.Record, error)
	GetTab(ctx context.Context, tabID string) (navstate.Record, error)
	ReportNavigation(ctx context.Context, tabID, url, source string, wait time.Duration) (controller.Outcome, error)
	CloseTab(ctx context.Context, tabID string) error
	Stats(ctx context.Context) (controller.Stats, error)
}

// tabRecord is the wire form of a navstate.Record.
type tabRecord struct {
	TabID        string     `json:"tab_id"`
	URL          string     `json:"url" doc:"Normalized URL of the tab's most recent navigation"`
	Decision     string     `json:"decision" enum:"unknown,pending,allowed,blocked"`
	RequestID    string     `json:"request_id,omitempty" doc:"Set while a classification is in flight"`
	Source       string     `json:"source,omitempty" doc:"Stream that first reported the URL"`
	Redirected   bool       `json:"redirected"`
	// WarningShown means the tab committed the warning page after the block.
	WarningShown bool       `json:"warning_shown"`
	ObservedAt   time.Time  `json:"observed_at"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	LastSeen     time.Time  `json:"last_seen"`
}

func toTabRecord(rec navstate.Record) tabRecord {
	out := tabRecord{
		TabID:        rec.TabID,
		URL:          rec.URL,
		Decision:     rec.Decision.String(),
		RequestID:    rec.RequestID,
		Source:       rec.Source,
		Redirected:   rec.Redirected,
		WarningShown: rec.WarningShown,
		ObservedAt:   rec.ObservedAt,
		LastSeen:     rec.LastSeen,
	}
	if !rec.DecidedAt.IsZero() {
		decided := rec.DecidedAt
		out.DecidedAt = &decided
	}
	return out
}

// Options carries the optional pieces of the HTTP surface.
type Options struct {
	// Feed enables GET /api/v1/events when set.
	Feed *relay.Broker
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("navguard API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	docs := renderDocs(cfg.Info.Title, opts.Feed != nil)
	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write(docs); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/blocked", blockedPageHandler)
	if opts.Feed != nil {
		router.Get("/api/v1/events", relay.SSEHandler(opts.Feed))
	}

	registerHealthHandlers(api, svc)
	registerTabHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *controller.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case controller.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case controller.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case controller.CodeEngineStopped, controller.CodeUnavailable:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
