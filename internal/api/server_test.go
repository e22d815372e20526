package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camhw/internal/api/models"
	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/events"
	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/lifecycle"
	"github.com/smazurov/camhw/internal/logging"
	"github.com/smazurov/camhw/internal/metrics/exporters"
	"github.com/smazurov/camhw/internal/registry"
)

type fakeRegistry struct {
	state     lifecycle.State
	devices   []hwdev.Info
	slots     []registry.SensorSlotInfo
	sessions  []registry.SessionInfo
	enumerate registry.EnumerateResult
}

func (f *fakeRegistry) State() lifecycle.State { return f.state }
func (f *fakeRegistry) Devices() []hwdev.Info  { return f.devices }

func (f *fakeRegistry) Device(index arena.Handle) (hwdev.Info, error) {
	for _, d := range f.devices {
		if d.Index == index {
			return d, nil
		}
	}
	return hwdev.Info{}, hwerr.Newf(hwerr.NotFound, "device %s not found", index)
}

func (f *fakeRegistry) SensorSlots() []registry.SensorSlotInfo { return f.slots }
func (f *fakeRegistry) Sessions() []registry.SessionInfo       { return f.sessions }

func (f *fakeRegistry) Session(h arena.Handle) (registry.SessionInfo, error) {
	for _, s := range f.sessions {
		if s.Handle == h {
			return s, nil
		}
	}
	return registry.SessionInfo{}, hwerr.Newf(hwerr.NotFound, "session %s not found", h)
}

func (f *fakeRegistry) Enumerate(context.Context) (registry.EnumerateResult, error) {
	if f.state != lifecycle.StateValid {
		return registry.EnumerateResult{}, hwerr.New(hwerr.InvalidState, "registry closing")
	}
	return f.enumerate, nil
}

// 1#1 and 2#1 in arena handle encoding.
const (
	sensorIndex = arena.Handle(1<<16 | 1)
	ispIndex    = arena.Handle(1<<16 | 2)
)

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		state: lifecycle.StateValid,
		devices: []hwdev.Info{
			{Index: sensorIndex, Path: "/dev/v4l-subdev1", Name: "cam-sensor0", Type: hwdev.TypeSensor, State: lifecycle.StateValid, Refcount: 1, Leases: 1, Order: 3, Realtime: true},
			{Index: ispIndex, Path: "/dev/v4l-subdev2", Name: "cam-isp0", Type: hwdev.TypeISPFront, State: lifecycle.StateValid, Order: 2, MMU: hwdev.MMUHandles{NonSecure: 7, Secure: 8}},
		},
		slots: []registry.SensorSlotInfo{{ID: 0, Path: "/dev/v4l-subdev9", Name: "cam-sensor-driver"}},
		sessions: []registry.SessionInfo{{
			Handle:     arena.Handle(1<<16 | 1),
			KMDHandle:  42,
			State:      lifecycle.StateValid,
			ClientRefs: 1,
			Acquired:   []registry.AcquiredDevice{{Handle: 3, DeviceIndex: sensorIndex, Type: hwdev.TypeSensor, Realtime: true}},
			Links:      []registry.Link{{Handle: 9, Devices: []int32{3}, Active: true}},
		}},
		enumerate: registry.EnumerateResult{Added: 2, Staged: 1},
	}
}

func newTestServer(t *testing.T, reg Registry, opts Options) (*httptest.Server, *events.Bus) {
	t.Helper()
	bus := events.New()
	opts.Registry = reg
	opts.Events = bus
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)
	return ts, bus
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHealth(t *testing.T) {
	reg := newFakeRegistry()
	ts, _ := newTestServer(t, reg, Options{})

	var health models.HealthData
	getJSON(t, ts.URL+"/api/health", http.StatusOK, &health)
	if health.Status != "ok" || health.Devices != 2 || health.Sessions != 1 {
		t.Errorf("health = %+v", health)
	}

	reg.state = lifecycle.StateDestroying
	getJSON(t, ts.URL+"/api/health", http.StatusServiceUnavailable, nil)
}

func TestDeviceRoutes(t *testing.T) {
	ts, _ := newTestServer(t, newFakeRegistry(), Options{})

	var list models.DeviceListData
	getJSON(t, ts.URL+"/api/devices", http.StatusOK, &list)
	if list.Count != 2 || list.Devices[1].Family != "isp_front" || list.Devices[1].MMU != [2]int{7, 8} {
		t.Errorf("devices = %+v", list)
	}

	var dev models.DeviceInfo
	getJSON(t, ts.URL+"/api/devices/65537", http.StatusOK, &dev)
	if dev.Name != "cam-sensor0" || dev.Ref != "1#1" || dev.Leases != 1 {
		t.Errorf("device = %+v", dev)
	}

	getJSON(t, ts.URL+"/api/devices/999", http.StatusNotFound, nil)

	var slots struct {
		Slots []models.SensorSlot `json:"slots"`
	}
	getJSON(t, ts.URL+"/api/sensor-slots", http.StatusOK, &slots)
	if len(slots.Slots) != 1 || slots.Slots[0].Path != "/dev/v4l-subdev9" {
		t.Errorf("slots = %+v", slots)
	}
}

func TestEnumerate(t *testing.T) {
	reg := newFakeRegistry()
	ts, _ := newTestServer(t, reg, Options{})

	resp, err := http.Post(ts.URL+"/api/devices/enumerate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var result struct {
		Added  int `json:"added"`
		Staged int `json:"staged"`
	}
	err = json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()
	if err != nil || result.Added != 2 || result.Staged != 1 {
		t.Errorf("enumerate = %+v, %v", result, err)
	}

	reg.state = lifecycle.StateDestroying
	resp, err = http.Post(ts.URL+"/api/devices/enumerate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("enumerate while closing = %d, want 409", resp.StatusCode)
	}
}

func TestSessionRoutes(t *testing.T) {
	ts, _ := newTestServer(t, newFakeRegistry(), Options{})

	var list struct {
		Sessions []models.SessionInfo `json:"sessions"`
		Count    int                  `json:"count"`
	}
	getJSON(t, ts.URL+"/api/sessions", http.StatusOK, &list)
	if list.Count != 1 || list.Sessions[0].KMDHandle != 42 {
		t.Fatalf("sessions = %+v", list)
	}

	var s models.SessionInfo
	getJSON(t, ts.URL+"/api/sessions/65537", http.StatusOK, &s)
	if len(s.Devices) != 1 || s.Devices[0].Family != "sensor" || len(s.Links) != 1 || !s.Links[0].Active {
		t.Errorf("session = %+v", s)
	}

	getJSON(t, ts.URL+"/api/sessions/7", http.StatusNotFound, nil)
}

func TestBasicAuth(t *testing.T) {
	ts, _ := newTestServer(t, newFakeRegistry(), Options{AuthUsername: "admin", AuthPassword: "secret"})

	getJSON(t, ts.URL+"/api/health", http.StatusOK, nil)

	resp, err := http.Get(ts.URL + "/api/devices")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized || resp.Header.Get("WWW-Authenticate") == "" {
		t.Errorf("unauthenticated status = %d", resp.StatusCode)
	}

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"header", "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret")), "", http.StatusOK},
		{"query", "", base64.StdEncoding.EncodeToString([]byte("admin:secret")), http.StatusOK},
		{"wrong password", "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:nope")), "", http.StatusUnauthorized},
		{"bearer", "Bearer token", "", http.StatusUnauthorized},
		{"garbage", "Basic !!!", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := ts.URL + "/api/devices"
			if tt.query != "" {
				url += "?auth=" + tt.query
			}
			req, _ := http.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestLogRoutes(t *testing.T) {
	ts, _ := newTestServer(t, newFakeRegistry(), Options{})

	logger := slog.New(logging.NewBufferHandler(slog.LevelInfo)).With("module", "apitest")
	logger.Info("first")
	logger.Info("second", "node", "video3")

	var logs models.LogListData
	getJSON(t, ts.URL+"/api/logs?module=apitest&limit=1", http.StatusOK, &logs)
	if logs.Count != 1 || logs.Entries[0].Message != "second" || logs.Entries[0].Attributes["node"] != "video3" {
		t.Errorf("logs = %+v", logs)
	}

	logging.GetLogger("apitest")
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/logs/levels/apitest", strings.NewReader(`{"level":"debug"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var levels models.LogLevelsData
	err = json.NewDecoder(resp.Body).Decode(&levels)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || levels.Modules["apitest"] != "debug" {
		t.Errorf("set level status=%d levels=%v err=%v", resp.StatusCode, levels.Modules, err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, newFakeRegistry(), Options{
		AuthUsername:      "admin",
		AuthPassword:      "secret",
		PrometheusHandler: exporters.HTTPHandler(),
	})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200 without auth", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	ts, bus := newTestServer(t, newFakeRegistry(), Options{})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Publish(events.DeviceDiscoveryEvent{Path: "/dev/video7", Family: "jpeg", Action: "added"})
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	scanner := bufio.NewScanner(resp.Body)
	var sawType bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: device-discovery" {
			sawType = true
		}
		if strings.HasPrefix(line, "data:") {
			if !strings.Contains(line, "/dev/video7") {
				t.Errorf("unexpected data line %q", line)
			}
			break
		}
	}
	if !sawType {
		t.Error("event type line missing")
	}
}
