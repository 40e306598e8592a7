package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"Browser tab (CDP target) ID"`
}

type navigationInput struct {
	TabID string `path:"tab_id" doc:"Tab ID. The guard only redirects tabs it can reach over CDP, so bridge callers that use their own tab IDs should wait for the decision and redirect themselves."`
	Body  struct {
		URL    string `json:"url" minLength:"1" doc:"URL as reported by the browser"`
		Source string `json:"source,omitempty" enum:"tab_updated,navigation_committed" doc:"Reporting stream; defaults to navigation_committed"`
		WaitMS int    `json:"wait_ms,omitempty" minimum:"0" maximum:"10000" doc:"Wait up to this long for the decision; 0 returns at once"`
	}
}

type navigationOutput struct {
	Body struct {
		Status      string `json:"status" enum:"accepted,decided" doc:"decided when the response carries the engine's decision"`
		TabID       string `json:"tab_id"`
		Decision    string `json:"decision,omitempty" enum:"pending,allowed,blocked,excluded"`
		URL         string `json:"url,omitempty" doc:"Normalized URL the decision applies to"`
		RedirectURL string `json:"redirect_url,omitempty" doc:"Warning page to send a blocked tab to"`
		Label       string `json:"label,omitempty"`
	}
}

func registerTabHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List tracked tabs and their navigation decisions", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*struct {
			Body struct {
				Tabs []tabRecord `json:"tabs"`
			}
		}, error) {
			records, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &struct {
				Body struct {
					Tabs []tabRecord `json:"tabs"`
				}
			}{}
			out.Body.Tabs = make([]tabRecord, 0, len(records))
			for _, rec := range records {
				out.Body.Tabs = append(out.Body.Tabs, toTabRecord(rec))
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}", Summary: "Get one tab's navigation record", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*struct{ Body tabRecord }, error) {
			rec, err := svc.GetTab(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &struct{ Body tabRecord }{Body: toTabRecord(rec)}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "report-navigation", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/navigation", Summary: "Report a navigation from an external event source", Tags: []string{"Tabs"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *navigationInput) (*navigationOutput, error) {
			wait := time.Duration(input.Body.WaitMS) * time.Millisecond
			outcome, err := svc.ReportNavigation(ctx, input.TabID, input.Body.URL, input.Body.Source, wait)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &navigationOutput{}
			out.Body.Status = "accepted"
			out.Body.TabID = input.TabID
			if outcome.Decision != "" && outcome.Decision != "pending" {
				out.Body.Status = "decided"
			}
			out.Body.Decision = outcome.Decision
			out.Body.URL = outcome.URL
			out.Body.RedirectURL = outcome.RedirectURL
			out.Body.Label = outcome.Label
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "close-tab", Method: http.MethodDelete, Path: "/api/v1/tabs/{tab_id}", Summary: "Report a closed tab and drop its record", Tags: []string{"Tabs"}, DefaultStatus: http.StatusNoContent},
		func(ctx context.Context, input *tabIDInput) (*struct{}, error) {
			if err := svc.CloseTab(ctx, input.TabID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})
}
