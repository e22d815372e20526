package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camhw/internal/api/models"
	"github.com/smazurov/camhw/internal/arena"
)

type SessionHandleInput struct {
	Handle int32 `path:"handle" example:"65537" doc:"Registry session handle"`
}

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SessionListResponse, error) {
		resp := &models.SessionListResponse{}
		resp.Body.Sessions = []models.SessionInfo{}
		for _, info := range s.registry.Sessions() {
			resp.Body.Sessions = append(resp.Body.Sessions, models.SessionFromInfo(info))
		}
		resp.Body.Count = len(resp.Body.Sessions)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{handle}",
		Summary:     "Get Session",
		Description: "Acquired devices, links and flush state of one session",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *SessionHandleInput) (*models.SessionResponse, error) {
		info, err := s.registry.Session(arena.Handle(input.Handle))
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.SessionResponse{Body: models.SessionFromInfo(info)}, nil
	})
}
