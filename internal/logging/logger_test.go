package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func resetState(t *testing.T) {
	t.Helper()
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	logBuffer = NewRingBuffer(defaultBufferSize)
	logCallback = nil
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState(t)

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"registry": "debug",
			"api":      "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"registry", true, true, true},
		{"api", false, false, true},
		{"poll", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState(t)

	before := GetLogger("hwdev")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger created before Initialize should default to info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"hwdev": "debug"}})

	if after := GetLogger("hwdev"); after != before {
		t.Error("logger should be cached across Initialize")
	}
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("cached logger should pick up the debug level")
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetState(t)
	Initialize(Config{Level: "info"})

	logger := GetLogger("poll")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug enabled before SetModuleLevel")
	}

	if !SetModuleLevel("poll", "debug") {
		t.Fatal("SetModuleLevel rejected a valid level")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug not enabled after SetModuleLevel")
	}
	if SetModuleLevel("poll", "loud") {
		t.Error("SetModuleLevel accepted an unknown level")
	}
	if got := ModuleLevels()["poll"]; got != "debug" {
		t.Errorf("ModuleLevels()[poll] = %q, want debug", got)
	}

	Reconfigure(Config{Level: "error"})
	if logger.Handler().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn still enabled after Reconfigure to error")
	}
}

func TestBufferHandlerCapturesEntries(t *testing.T) {
	resetState(t)

	var got []LogEntry
	SetLogCallback(func(e LogEntry) { got = append(got, e) })

	logger := slog.New(NewBufferHandler(slog.LevelInfo)).With("module", "registry")
	logger.Debug("dropped")
	logger.Info("Device added", "path", "/dev/video2", "timeout", time.Second)
	logger.WithGroup("caps").Warn("Capability query failed", "size", 64)

	entries := GetBuffer().ReadAll()
	if len(entries) != 2 {
		t.Fatalf("buffer holds %d entries, want 2", len(entries))
	}
	if entries[0].Module != "registry" || entries[0].Attributes["path"] != "/dev/video2" {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[0].Attributes["timeout"] != "1s" {
		t.Errorf("duration attribute = %v, want 1s", entries[0].Attributes["timeout"])
	}
	if _, ok := entries[1].Attributes["caps.size"]; !ok {
		t.Errorf("grouped attribute missing: %+v", entries[1].Attributes)
	}
	if len(got) != 2 {
		t.Errorf("callback saw %d entries, want 2", len(got))
	}
}

func TestRingBufferTail(t *testing.T) {
	rb := NewRingBuffer(3)
	for n, module := range []string{"poll", "registry", "poll", "registry"} {
		rb.Write(LogEntry{Module: module, Message: string(rune('a' + n))})
	}

	all := rb.ReadAll()
	if len(all) != 3 || all[0].Message != "b" || all[2].Message != "d" {
		t.Errorf("ReadAll = %+v", all)
	}
	if tail := rb.Tail(1, ""); len(tail) != 1 || tail[0].Message != "d" {
		t.Errorf("Tail(1) = %+v", tail)
	}
	if tail := rb.Tail(0, "poll"); len(tail) != 1 || tail[0].Message != "c" {
		t.Errorf("Tail(poll) = %+v", tail)
	}
}

func TestMultiHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")

	output := buf.String()
	if count := strings.Count(output, "debug only message"); count != 1 {
		t.Errorf("expected 1 debug message, got %d. Output: %s", count, output)
	}
}

func TestFormatLogLine(t *testing.T) {
	line := FormatLogLine(LogEntry{
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:      "warn",
		Module:     "poll",
		Message:    "Dropping fd",
		Attributes: map[string]any{"fd": 7, "events": "hup"},
	})
	want := "2026-01-02T03:04:05Z [WARN] [poll] Dropping fd events=hup fd=7"
	if line != want {
		t.Errorf("FormatLogLine = %q, want %q", line, want)
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			switch {
			case tt.isNil && got != nil:
				t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
			case !tt.isNil && got == nil:
				t.Errorf("parseLevel(%q) = nil, want %v", tt.input, tt.want)
			case !tt.isNil && *got != tt.want:
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, *got, tt.want)
			}
		})
	}
}

func TestRingBufferCount(t *testing.T) {
	rb := NewRingBuffer(2)
	if rb.Count() != 0 || rb.ReadAll() != nil {
		t.Fatalf("empty buffer: count %d, entries %v", rb.Count(), rb.ReadAll())
	}
	for range 5 {
		rb.Write(LogEntry{Message: "x"})
	}
	if rb.Count() != 2 {
		t.Errorf("Count = %d, want 2", rb.Count())
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errBoom }

var errBoom = errors.New("boom")

func TestMultiHandlerJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	text := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := NewMultiHandler(failingHandler{text}, text)

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "still written", 0))
	if !errors.Is(err, errBoom) {
		t.Errorf("Handle error = %v, want boom", err)
	}
	if !strings.Contains(buf.String(), "still written") {
		t.Errorf("second handler skipped: %q", buf.String())
	}
}

func TestJournalFields(t *testing.T) {
	fields := map[string]string{}
	addAttrToFields(fields, slog.String("path", "/dev/video0"), nil)
	addAttrToFields(fields, slog.Int("fd", 7), []string{"poll"})
	addAttrToFields(fields, slog.Group("req", slog.Int64("id", 42), slog.Bool("flushed", true)), nil)
	addAttrToFields(fields, slog.String("sensor-id", "0x258"), nil)

	want := map[string]string{
		"CAMHW_PATH":        "/dev/video0",
		"CAMHW_POLL_FD":     "7",
		"CAMHW_REQ_ID":      "42",
		"CAMHW_REQ_FLUSHED": "true",
		"CAMHW_SENSOR_ID":   "0x258",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%s] = %q, want %q", k, fields[k], v)
		}
	}
	if len(fields) != len(want) {
		t.Errorf("unexpected fields: %v", fields)
	}
}
