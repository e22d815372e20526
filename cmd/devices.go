package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/camhw/internal/api/models"
	"github.com/smazurov/camhw/internal/registry"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var flags registryFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List camera devices",
		Long: `Scans the video4linux class directory, registers every camera node it recognises ` +
			`and prints the devices in stream-on order together with staged sensor slots.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inst, res, err := flags.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer inst.Close()

			if asJSON {
				return writeDevicesJSON(cmd.OutOrStdout(), inst)
			}
			return writeDevicesTable(cmd.OutOrStdout(), inst, res)
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

type devicesOutput struct {
	Devices []models.DeviceInfo `json:"devices"`
	Slots   []models.SensorSlot `json:"sensor_slots"`
}

func writeDevicesJSON(w io.Writer, inst *registry.Instance) error {
	out := devicesOutput{Devices: []models.DeviceInfo{}, Slots: []models.SensorSlot{}}
	for _, info := range inst.Devices() {
		out.Devices = append(out.Devices, models.DeviceFromInfo(info))
	}
	for _, s := range inst.SensorSlots() {
		out.Slots = append(out.Slots, models.SensorSlot{ID: s.ID, Path: s.Path, Name: s.Name})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeDevicesTable(w io.Writer, inst *registry.Instance, res registry.EnumerateResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tFAMILY\tPATH\tNAME\tON\tOFF\tREALTIME")
	for _, d := range inst.Devices() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%t\n",
			d.Index, d.Type, d.Path, d.Name, d.Order, d.StreamOffOrder, d.Realtime)
	}
	for _, s := range inst.SensorSlots() {
		fmt.Fprintf(tw, "slot %d\tsensor\t%s\t%s\t-\t-\tunprobed\n", s.ID, s.Path, s.Name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d added, %d staged, %d skipped, %d failed\n", res.Added, res.Staged, res.Skipped, res.Failed)
	return err
}
