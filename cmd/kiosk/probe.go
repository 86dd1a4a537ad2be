package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attendkiosk/internal/camera"
	"attendkiosk/internal/camera/v4l"
	"attendkiosk/internal/feedback"
)

var probeFacing string

var probeCmd = &cobra.Command{
	Use:   "probe [device]",
	Short: "Open a camera once and report how acquisition fails, if it does",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := camera.Constraints{
			Facing:      camera.FacingMode(probeFacing),
			IdealWidth:  cfg.CameraWidth,
			IdealHeight: cfg.CameraHeight,
		}
		if len(args) == 1 {
			c.DeviceID = args[0]
		}
		mgr := camera.NewManager(v4l.New(log), camera.Options{}, log)
		ae := mgr.Probe(cmd.Context(), c)
		out := cmd.OutOrStdout()
		if ae == nil {
			fmt.Fprintln(out, "ok: camera opened and released")
			return nil
		}
		n := feedback.MustDefault().Notice(ae.Kind.Key(), nil)
		fmt.Fprintf(out, "%s: %s\n%s\n", ae.Kind.Key(), n.Title, n.Description)
		return fmt.Errorf("probe failed: %w", ae)
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeFacing, "facing", string(camera.FacingFront), "Facing mode when no device is given (user or environment)")
	rootCmd.AddCommand(probeCmd)
}
