package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"attendkiosk/internal/camera/v4l"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := v4l.New(log).Enumerate(cmd.Context())
		if err != nil {
			return err
		}
		if len(devs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no capture devices found")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tLABEL")
		for _, d := range devs {
			fmt.Fprintf(w, "%s\t%s\n", d.ID, d.Label)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
