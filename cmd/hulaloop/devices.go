package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/lisuiheng/hulaloop-go/audio"
	"github.com/lisuiheng/hulaloop-go/core"
	"github.com/spf13/cobra"
)

func devicesCommand(cfg *core.Config) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, err := audio.ParseDeviceType(typ)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return printDevices(cmd.OutOrStdout(), a.transport.Controller(), mask)
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "all", "Device type: record, playback, loopback or all")
	return cmd
}

// printDevices 列出匹配 mask 的设备，* 标记当前使用的设备
func printDevices(out io.Writer, ctrl *audio.Controller, mask audio.DeviceType) error {
	devices := ctrl.Devices(mask)
	defer audio.ReleaseDevices(devices)

	in := ctrl.ActiveInputDevice()
	outDev := ctrl.ActiveOutputDevice()
	defer in.Release()
	defer outDev.Release()

	fmt.Fprintf(out, "Driver: %s, format %s\n", ctrl.Backend().Name(), ctrl.Format())
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tTYPE\tID\tDEFAULT")
	for _, d := range devices {
		mark := ""
		if (in != nil && in.ID == d.ID) || (outDev != nil && outDev.ID == d.ID) {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", mark, d.Name, d.Type, d.ID, d.Default)
	}
	return w.Flush()
}
