package cmd

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/registry"
)

const capPreviewBytes = 16

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var flags registryFlags
	var sensorID uint32

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Query capabilities and probe sensors",
		Long: `Registers every camera node, queries each device's capability blob and, ` +
			`when --sensor-id is given, probes every staged sensor slot for that sensor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inst, _, err := flags.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer inst.Close()

			w := cmd.OutOrStdout()
			printCapabilities(w, inst)
			if !cmd.Flags().Changed("sensor-id") {
				for _, s := range inst.SensorSlots() {
					fmt.Fprintf(w, "slot %d %s: not probed (pass --sensor-id)\n", s.ID, s.Path)
				}
				return nil
			}
			return probeSlots(w, inst, sensorID)
		},
	}

	flags.bind(cmd)
	cmd.Flags().Uint32Var(&sensorID, "sensor-id", 0, "sensor id to look for in every staged slot")
	return cmd
}

func printCapabilities(w io.Writer, inst *registry.Instance) {
	for _, d := range inst.Devices() {
		size, err := inst.CapabilitySize(d.Index)
		if err != nil || size == 0 {
			fmt.Fprintf(w, "%-10s %-20s no capabilities\n", d.Type, d.Path)
			continue
		}
		blob := make([]byte, size)
		if err := inst.QueryCapability(d.Index, blob); err != nil {
			fmt.Fprintf(w, "%-10s %-20s query failed: %v\n", d.Type, d.Path, err)
			continue
		}
		fmt.Fprintf(w, "%-10s %-20s %4d bytes  %s\n", d.Type, d.Path, size, hex.EncodeToString(blob[:min(size, capPreviewBytes)]))
	}
}

func probeSlots(w io.Writer, inst *registry.Instance, sensorID uint32) error {
	var failed int
	for _, s := range inst.SensorSlots() {
		idx, ok, err := inst.ProbeSensor(s.ID, hwdev.ProbeRequest{SensorID: sensorID})
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(w, "slot %d %s: probe failed: %v\n", s.ID, s.Path, err)
		case ok:
			fmt.Fprintf(w, "slot %d %s: sensor 0x%x detected, registered as %s\n", s.ID, s.Path, sensorID, idx)
		default:
			fmt.Fprintf(w, "slot %d %s: sensor 0x%x not present\n", s.ID, s.Path, sensorID)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d sensor slots failed to probe", failed)
	}
	return nil
}
