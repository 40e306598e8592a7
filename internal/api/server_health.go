package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/navguard/internal/controller"
)

func registerHealthHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type statsOutput struct {
		Body controller.Stats
	}
	huma.Register(api, huma.Operation{OperationID: "stats", Method: http.MethodGet, Path: "/api/v1/stats", Summary: "Interception counters", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*statsOutput, error) {
			stats, err := svc.Stats(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &statsOutput{Body: stats}, nil
		})
}
