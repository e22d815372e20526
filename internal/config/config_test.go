package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// testOptions mirrors the shape of the service options in main.go.
type testOptions struct {
	Config string

	SysfsClassDir string        `toml:"registry.sysfs_class_dir" env:"REGISTRY_SYSFS_CLASS_DIR"`
	EagerCaps     bool          `toml:"registry.eager_caps" env:"REGISTRY_EAGER_CAPS"`
	MaxSessions   int           `toml:"registry.max_sessions" env:"REGISTRY_MAX_SESSIONS"`
	MaxLinks      uint          `toml:"registry.max_links" env:"REGISTRY_MAX_LINKS"`
	PollTimeout   time.Duration `toml:"poll.shutdown_timeout" env:"POLL_SHUTDOWN_TIMEOUT"`
	Families      []string      `toml:"registry.families" env:"REGISTRY_FAMILIES"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camhw.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
[registry]
sysfs_class_dir = "/tmp/sysfs"
eager_caps = true
max_sessions = 4
max_links = 2
families = ["sensor", "csiphy"]

[poll]
shutdown_timeout = "250ms"
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := testOptions{
		Config:        path,
		SysfsClassDir: "/tmp/sysfs",
		EagerCaps:     true,
		MaxSessions:   4,
		MaxLinks:      2,
		PollTimeout:   250 * time.Millisecond,
		Families:      []string{"sensor", "csiphy"},
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("LoadConfig = %+v, want %+v", *opts, want)
	}
}

func TestDurationAsMilliseconds(t *testing.T) {
	path := writeConfig(t, "[poll]\nshutdown_timeout = 1500\n")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.PollTimeout != 1500*time.Millisecond {
		t.Errorf("PollTimeout = %s, want 1.5s", opts.PollTimeout)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("CAMHW_REGISTRY_SYSFS_CLASS_DIR", "/env/sysfs")
	t.Setenv("CAMHW_REGISTRY_EAGER_CAPS", "true")
	t.Setenv("CAMHW_REGISTRY_MAX_SESSIONS", "9")
	t.Setenv("CAMHW_REGISTRY_MAX_LINKS", "3")
	t.Setenv("CAMHW_POLL_SHUTDOWN_TIMEOUT", "2s")
	t.Setenv("CAMHW_REGISTRY_FAMILIES", " isp_front , jpeg ")

	opts := &testOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.SysfsClassDir != "/env/sysfs" || !opts.EagerCaps || opts.MaxSessions != 9 || opts.MaxLinks != 3 {
		t.Errorf("unexpected options %+v", *opts)
	}
	if opts.PollTimeout != 2*time.Second {
		t.Errorf("PollTimeout = %s, want 2s", opts.PollTimeout)
	}
	if want := []string{"isp_front", "jpeg"}; !reflect.DeepEqual(opts.Families, want) {
		t.Errorf("Families = %v, want %v", opts.Families, want)
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	path := writeConfig(t, "[registry]\nmax_sessions = 4\nsysfs_class_dir = \"/toml\"\n")
	t.Setenv("CAMHW_REGISTRY_MAX_SESSIONS", "12")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.MaxSessions != 12 {
		t.Errorf("MaxSessions = %d, want env value 12", opts.MaxSessions)
	}
	if opts.SysfsClassDir != "/toml" {
		t.Errorf("SysfsClassDir = %q, want TOML value", opts.SysfsClassDir)
	}
}

func TestChangedFlagsWin(t *testing.T) {
	path := writeConfig(t, "[registry]\nmax_sessions = 4\nmax_links = 2\n")
	t.Setenv("CAMHW_REGISTRY_MAX_SESSIONS", "12")

	opts := &testOptions{Config: path}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&opts.MaxSessions, "max-sessions", 16, "")
	if err := cmd.Flags().Set("max-sessions", "1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.MaxSessions != 1 {
		t.Errorf("MaxSessions = %d, want flag value 1", opts.MaxSessions)
	}
	if opts.MaxLinks != 2 {
		t.Errorf("MaxLinks = %d, want TOML value 2", opts.MaxLinks)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		toml string
		env  map[string]string
	}{
		{"bad toml", "[registry\nbroken", nil},
		{"bad duration", "[poll]\nshutdown_timeout = \"soon\"\n", nil},
		{"negative unsigned", "[registry]\nmax_links = -1\n", nil},
		{"bad env int", "", map[string]string{"CAMHW_REGISTRY_MAX_SESSIONS": "many"}},
		{"bad env bool", "", map[string]string{"CAMHW_REGISTRY_EAGER_CAPS": "perhaps"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := &testOptions{}
			if tt.toml != "" {
				opts.Config = writeConfig(t, tt.toml)
			}
			if err := LoadConfig(opts, nil); err == nil {
				t.Errorf("LoadConfig accepted invalid input")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml")}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
}

func TestLoadConfigRejectsNonStruct(t *testing.T) {
	var n int
	if err := LoadConfig(&n, nil); err == nil {
		t.Error("LoadConfig accepted a non-struct")
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"registry": map[string]any{
			"limits": map[string]any{"sessions": int64(4)},
			"dir":    "/sys",
		},
		"root": "value",
	}

	tests := []struct {
		path string
		want any
	}{
		{"root", "value"},
		{"registry.dir", "/sys"},
		{"registry.limits.sessions", int64(4)},
		{"missing", nil},
		{"registry.missing", nil},
		{"root.child", nil},
	}

	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":          "port",
		"MaxSessions":   "max-sessions",
		"SysfsClassDir": "sysfs-class-dir",
		"LoggingLevel":  "logging-level",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "warn"
format = "json"
poll = "error"

[logging.modules]
registry = "debug"
hwdev = "info"
`)

	cfg, err := ReadLoggingConfig(path)
	if err != nil {
		t.Fatalf("ReadLoggingConfig failed: %v", err)
	}
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("Level/Format = %q/%q", cfg.Level, cfg.Format)
	}
	want := map[string]string{"poll": "error", "registry": "debug", "hwdev": "info"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Modules = %v, want %v", cfg.Modules, want)
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.toml")} {
		cfg := LoadLoggingConfig(path)
		if cfg.Level != "info" || cfg.Format != "text" || len(cfg.Modules) != 0 {
			t.Errorf("LoadLoggingConfig(%q) = %+v, want defaults", path, cfg)
		}
	}
	if _, err := ReadLoggingConfig(writeConfig(t, "[logging\n")); err == nil {
		t.Error("ReadLoggingConfig accepted invalid TOML")
	}
}
