//go:build linux

package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/kmd/kmdtest"
)

func writeNode(t *testing.T, dir, node, name string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, node), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, node, "name"), []byte(name+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// setup builds a fake sysfs tree and points newDriver at a fake driver.
func setup(t *testing.T) (string, *kmdtest.Driver) {
	t.Helper()
	sysfs := t.TempDir()
	writeNode(t, sysfs, "video0", "cam-req-mgr")
	writeNode(t, sysfs, "v4l-subdev0", "cam-sensor0")
	writeNode(t, sysfs, "v4l-subdev1", "cam-csiphy0")

	drv := kmdtest.New()
	prev := newDriver
	newDriver = func() kmd.Driver { return drv }
	t.Cleanup(func() { newDriver = prev })
	return sysfs, drv
}

func run(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetArgs(args)
	err := c.Execute()
	return out.String(), err
}

func TestDevicesTable(t *testing.T) {
	sysfs, _ := setup(t)

	out, err := run(t, CreateDevicesCmd(), "--sysfs-class-dir", sysfs)
	if err != nil {
		t.Fatalf("devices failed: %v\n%s", err, out)
	}

	for _, want := range []string{"/dev/video0", "/dev/v4l-subdev1", "slot 1", "2 added, 1 staged, 0 skipped, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDevicesJSON(t *testing.T) {
	sysfs, _ := setup(t)

	out, err := run(t, CreateDevicesCmd(), "--sysfs-class-dir", sysfs, "--json")
	if err != nil {
		t.Fatalf("devices --json failed: %v", err)
	}

	var got devicesOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(got.Devices) != 2 {
		t.Errorf("got %d devices, want 2", len(got.Devices))
	}
	if len(got.Slots) != 1 || got.Slots[0].Path != "/dev/v4l-subdev0" {
		t.Errorf("sensor slots = %+v", got.Slots)
	}
}

func TestDevicesMissingSysfs(t *testing.T) {
	setup(t)

	_, err := run(t, CreateDevicesCmd(), "--sysfs-class-dir", filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error for a missing class directory")
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name     string
		detected bool
		args     []string
		want     string
	}{
		{name: "no sensor id", args: nil, want: "not probed"},
		{name: "sensor absent", args: []string{"--sensor-id", "0x258"}, want: "not present"},
		{name: "sensor present", detected: true, args: []string{"--sensor-id", "600"}, want: "sensor 0x258 detected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sysfs, drv := setup(t)
			drv.SetCaps("/dev/v4l-subdev1", []byte{0xde, 0xad, 0xbe, 0xef})
			drv.SetProbeResult("/dev/v4l-subdev0", tt.detected)

			args := append([]string{"--sysfs-class-dir", sysfs}, tt.args...)
			out, err := run(t, CreateProbeCmd(), args...)
			if err != nil {
				t.Fatalf("probe failed: %v\n%s", err, out)
			}
			if !strings.Contains(out, "deadbeef") {
				t.Errorf("capability preview missing:\n%s", out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}
