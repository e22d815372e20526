package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camhw/internal/api/models"
	"github.com/smazurov/camhw/internal/arena"
)

// DeviceIndexInput selects a device by registry handle.
type DeviceIndexInput struct {
	Index int32 `path:"index" example:"65537" doc:"Registry handle of the device"`
}

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "Registered devices with their stream order, lease counts and MMU handles",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.DeviceListResponse, error) {
		infos := s.registry.Devices()
		out := make([]models.DeviceInfo, 0, len(infos))
		for _, info := range infos {
			out = append(out, models.DeviceFromInfo(info))
		}
		return &models.DeviceListResponse{Body: models.DeviceListData{Devices: out, Count: len(out)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-device",
		Method:      http.MethodGet,
		Path:        "/api/devices/{index}",
		Summary:     "Get Device",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *DeviceIndexInput) (*models.DeviceResponse, error) {
		info, err := s.registry.Device(arena.Handle(input.Index))
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.DeviceResponse{Body: models.DeviceFromInfo(info)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-sensor-slots",
		Method:      http.MethodGet,
		Path:        "/api/sensor-slots",
		Summary:     "List Sensor Slots",
		Description: "Sensor nodes found by discovery that have not been probed yet",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SensorSlotListResponse, error) {
		resp := &models.SensorSlotListResponse{}
		resp.Body.Slots = []models.SensorSlot{}
		for _, slot := range s.registry.SensorSlots() {
			resp.Body.Slots = append(resp.Body.Slots, models.SensorSlot{ID: slot.ID, Path: slot.Path, Name: slot.Name})
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "enumerate-devices",
		Method:      http.MethodPost,
		Path:        "/api/devices/enumerate",
		Summary:     "Enumerate Devices",
		Description: "Rescan the video4linux class directory and register new nodes",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.EnumerateResponse, error) {
		result, err := s.registry.Enumerate(ctx)
		if err != nil {
			return nil, toHTTPError(err)
		}
		s.logger.Info("Enumeration requested", "added", result.Added, "staged", result.Staged)
		return models.EnumerateFromResult(result), nil
	})
}
