// Package cmd holds the camhw sub-commands.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/camhw/internal/kmd"
	"github.com/smazurov/camhw/internal/registry"
)

// newDriver is replaced in tests.
var newDriver = func() kmd.Driver { return kmd.NewLinux() }

// registryFlags are shared by every command that opens its own registry.
type registryFlags struct {
	sysfsDir string
	devDir   string
}

func (f *registryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sysfsDir, "sysfs-class-dir", registry.DefaultSysfsClassDir, "video4linux class directory to scan")
	cmd.Flags().StringVar(&f.devDir, "dev-dir", registry.DefaultDevDir, "directory holding the device nodes")
}

// open creates a registry and runs one discovery pass. The caller closes it.
func (f *registryFlags) open(ctx context.Context, eagerCaps bool) (*registry.Instance, registry.EnumerateResult, error) {
	inst, err := registry.New(registry.Options{
		Driver:        newDriver(),
		SysfsClassDir: f.sysfsDir,
		DevDir:        f.devDir,
		EagerCaps:     eagerCaps,
	})
	if err != nil {
		return nil, registry.EnumerateResult{}, fmt.Errorf("create registry: %w", err)
	}

	res, err := inst.Enumerate(ctx)
	if err != nil {
		_ = inst.Close()
		return nil, res, fmt.Errorf("enumerate %s: %w", f.sysfsDir, err)
	}
	return inst, res, nil
}
