package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reccal/internal/device"
	"reccal/internal/drives"
)

func (a *app) deviceClient() *device.Client {
	return device.NewClient(
		device.SerialEnumerator{},
		device.SerialOpener{Baud: a.cfg.Serial.Baud},
		device.Options{
			ReadTimeout:  a.cfg.Serial.ReadTimeout,
			SettleDelay:  a.cfg.Serial.SettleDelay,
			SyncAttempts: a.cfg.Serial.SyncAttempts,
			SyncTimeout:  a.cfg.Serial.SyncTimeout,
		},
	)
}

func devicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List connected recorders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := a.deviceClient().Discover(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range devs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d.Description, d.Port)
			}
			return nil
		},
	}
}

func syncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Set every connected recorder's clock to now, then reset it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.deviceClient()
			devs, err := c.Discover(cmd.Context())
			if err != nil {
				return err
			}
			report := c.SyncAll(cmd.Context(), devs)
			for _, res := range report.Results {
				status := "ok, device reports " + res.Time.Format(time.DateTime)
				if res.Err != nil {
					status = "FAILED: " + res.Err.Error()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", res.Device.Description, status)
			}
			return report.Err()
		},
	}
}

func timeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "time",
		Short: "Show each recorder's clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.deviceClient()
			devs, err := c.Discover(cmd.Context())
			if err != nil {
				return err
			}
			var failed int
			for _, d := range devs {
				r, err := c.GetTime(d)
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tFAILED: %v\n", d.Description, err)
				case !r.Valid:
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tunreadable reply %q\n", d.Description, r.Raw)
				default:
					drift := time.Since(r.Time).Round(time.Second)
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s (drift %s)\n", d.Description, r.Time.Format(time.DateTime), drift)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d devices did not report a time", failed, len(devs))
			}
			return nil
		},
	}
}

func resetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset every connected recorder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.deviceClient()
			devs, err := c.Discover(cmd.Context())
			if err != nil {
				return err
			}
			var failed int
			for _, d := range devs {
				if err := c.Reset(d); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tFAILED: %v\n", d.Description, err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d devices could not be reset", failed, len(devs))
			}
			return nil
		},
	}
}

func drivesCmd(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "drives",
		Short: "List removable destinations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			show := func(ds []drives.Drive) {
				if len(ds) == 0 {
					fmt.Fprintln(out, "No removable drives.")
				}
				for _, d := range ds {
					fmt.Fprintln(out, d)
				}
			}

			lister := drives.PartitionLister{FSTypes: a.cfg.Drives.FSTypes, RequireOpts: a.cfg.Drives.RequireOpts}
			if !watch {
				ds, err := lister.List(cmd.Context())
				if err != nil {
					return err
				}
				show(ds)
				return nil
			}

			m := drives.NewMonitor(lister, a.cfg.Drives.Poll, func(ds []drives.Drive) {
				fmt.Fprintf(out, "-- %s\n", time.Now().Format(time.TimeOnly))
				show(ds)
			})
			if err := m.Start(); err != nil {
				return err
			}
			defer m.Stop()
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep polling and print changes until interrupted")
	return cmd
}
