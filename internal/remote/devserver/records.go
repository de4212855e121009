package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/http/response"
	"github.com/pocketledger/ledgersync/internal/remote"
)

func (s *Server) registerRecordRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "upsertRecord",
		Method:        http.MethodPut,
		Path:          "/api/v1/collections/{collection}/records/{id}",
		Summary:       "Upsert record",
		Description:   "Inserts or replaces the record with the given id. Safe to retry.",
		Tags:          []string{"Records"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleUpsert)

	huma.Register(s.api, huma.Operation{
		OperationID: "listRecords",
		Method:      http.MethodGet,
		Path:        "/api/v1/collections/{collection}/records",
		Summary:     "List records updated since a timestamp",
		Description: "Returns records owned by user_id or belonging to any of group_ids, updated strictly after updated_after.",
		Tags:        []string{"Records"},
	}, s.handleListRecords)
}

// UpsertInput is the request for PUT .../records/{id}.
type UpsertInput struct {
	Collection string `path:"collection" enum:"users,group_members,groups,categories,expenses,shared_expenses" doc:"Collection wire name"`
	ID         string `path:"id" doc:"Record id"`
	RawBody    []byte
}

// UpsertOutput has no body; success is 204.
type UpsertOutput struct{}

func (s *Server) handleUpsert(ctx context.Context, input *UpsertInput) (*UpsertOutput, error) {
	c, err := domain.ParseCollection(input.Collection)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}

	h, err := domain.DecodeHeader(c, input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if h.ID != input.ID {
		return nil, huma.Error400BadRequest("record id does not match path")
	}

	if err := s.store.Upsert(ctx, c, json.RawMessage(input.RawBody)); err != nil {
		return nil, toHumaError(err)
	}
	return &UpsertOutput{}, nil
}

// ListRecordsInput is the request for GET .../records.
type ListRecordsInput struct {
	Collection   string `path:"collection" enum:"users,group_members,groups,categories,expenses,shared_expenses" doc:"Collection wire name"`
	UserID       string `query:"user_id" doc:"Owner to include"`
	GroupIDs     string `query:"group_ids" doc:"Comma-separated group ids to include"`
	UpdatedAfter string `query:"updated_after" doc:"RFC 3339 timestamp; only records updated strictly later are returned"`
}

// ListRecordsOutput wraps the records response for Huma.
type ListRecordsOutput struct {
	Body remote.RecordsResponse
}

func (s *Server) handleListRecords(ctx context.Context, input *ListRecordsInput) (*ListRecordsOutput, error) {
	c, err := domain.ParseCollection(input.Collection)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}

	var since time.Time
	if input.UpdatedAfter != "" {
		since, err = time.Parse(time.RFC3339Nano, input.UpdatedAfter)
		if err != nil {
			return nil, huma.Error400BadRequest("updated_after must be an RFC 3339 timestamp")
		}
	}

	scope := domain.ScopeFilter{UserID: input.UserID}
	for _, g := range strings.Split(input.GroupIDs, ",") {
		if g = strings.TrimSpace(g); g != "" {
			scope.GroupIDs = append(scope.GroupIDs, g)
		}
	}

	records, err := s.store.QueryUpdatedSince(ctx, c, scope, since)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &ListRecordsOutput{Body: remote.RecordsResponse{Records: records}}, nil
}

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
	}, s.handleHealth)
}

// HealthResponse contains health check data.
type HealthResponse struct {
	Status      string `json:"status" doc:"healthy or unavailable"`
	Subscribers int    `json:"subscribers" doc:"Connected realtime subscribers"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	if err := s.store.Ping(ctx); err != nil {
		return nil, huma.Error503ServiceUnavailable("remote store unavailable", err)
	}
	return &HealthOutput{Body: HealthResponse{
		Status:      "healthy",
		Subscribers: s.feed.SubscriberCount(),
	}}, nil
}

// toHumaError maps domain errors onto HTTP statuses.
func toHumaError(err error) error {
	var de *domainerrors.Error
	if domainerrors.As(err, &de) {
		status := response.StatusFor(de.Code)
		if de.Code == domainerrors.CodeRemoteUnavailable {
			status = http.StatusServiceUnavailable
		}
		return huma.NewError(status, de.Message, err)
	}
	return huma.Error500InternalServerError("internal error", err)
}
