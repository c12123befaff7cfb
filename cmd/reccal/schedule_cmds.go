package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"reccal/internal/archive"
	"reccal/internal/drives"
	"reccal/internal/export"
	"reccal/internal/ics"
	appLog "reccal/internal/log"
	"reccal/internal/model"
	"reccal/internal/recur"
	"reccal/internal/schedule"
)

const inputLayout = "2006-01-02 15:04"

func parseStamp(flag, v string) (time.Time, error) {
	t, err := time.ParseInLocation(inputLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected %q: %w", flag, inputLayout, err)
	}
	return t, nil
}

func spanFlags(cmd *cobra.Command, start, stop *string) {
	cmd.Flags().StringVar(start, "start", "", "Start, YYYY-MM-DD HH:MM")
	cmd.Flags().StringVar(stop, "stop", "", "Stop, YYYY-MM-DD HH:MM")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("stop")
}

// explainOverlap turns a rejected save into a message naming both events.
func explainOverlap(err error) error {
	var overlap *schedule.OverlapError
	if errors.As(err, &overlap) {
		return fmt.Errorf("nothing saved: %s conflicts with existing event %s (%s) on %s",
			overlap.Candidate, overlap.Existing.ID, overlap.Existing, overlap.Date)
	}
	return err
}

func addCmd(a *app) *cobra.Command {
	var start, stop string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a single event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseStamp("start", start)
			if err != nil {
				return err
			}
			to, err := parseStamp("stop", stop)
			if err != nil {
				return err
			}
			ev, err := model.NewEvent(from, to)
			if err != nil {
				return err
			}

			err = a.mutate(func(s *schedule.Store) error {
				return explainOverlap(s.SaveSingle(ev))
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added event %s: %s\n", ev.ID, ev)
			return nil
		},
	}
	spanFlags(cmd, &start, &stop)
	return cmd
}

func repeatCmd(a *app) *cobra.Command {
	var start, stop, until, every string

	cmd := &cobra.Command{
		Use:   "repeat",
		Short: "Add a recurring event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseStamp("start", start)
			if err != nil {
				return err
			}
			to, err := parseStamp("stop", stop)
			if err != nil {
				return err
			}
			last, err := model.ParseDate(until)
			if err != nil {
				return err
			}
			cadence, err := model.ParseCadence(every)
			if err != nil {
				return err
			}

			spans, err := recur.Expand(from, to, last, cadence, recur.Options{MaxOccurrences: a.cfg.Recurrence.MaxOccurrences})
			if err != nil {
				return err
			}
			series, children, err := model.NewSeries(from, to, last, cadence, spans)
			if err != nil {
				if errors.Is(err, model.ErrEmptySeries) {
					return fmt.Errorf("no occurrence ends on or before %s", last)
				}
				return err
			}

			err = a.mutate(func(s *schedule.Store) error {
				return explainOverlap(s.SaveSeries(series, children))
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added series %s: %d %s occurrences\n", series.ID, len(children), cadence)
			return nil
		},
	}
	spanFlags(cmd, &start, &stop)
	cmd.Flags().StringVar(&until, "until", "", "Last day an occurrence may end on, YYYY-MM-DD")
	cmd.Flags().StringVar(&every, "every", "weekly", "hourly, daily, weekly or monthly")
	_ = cmd.MarkFlagRequired("until")
	return cmd
}

func listCmd(a *app) *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}

			dates := s.Dates()
			if day != "" {
				d, err := model.ParseDate(day)
				if err != nil {
					return err
				}
				dates = []model.Date{d}
			}

			out := cmd.OutOrStdout()
			if s.Len() == 0 {
				fmt.Fprintln(out, "No events.")
				return nil
			}
			for _, d := range dates {
				fmt.Fprintln(out, d)
				for _, ev := range s.Query(d) {
					line := fmt.Sprintf("  %s  %s-%s", ev.ID, ev.Start.Format("15:04"), ev.Stop.Format("15:04"))
					if ev.ParentID != "" {
						line += "  series " + ev.ParentID
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&day, "date", "", "Only this day, YYYY-MM-DD")
	return cmd
}

func removeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <event-id>",
		Short: "Remove one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(func(s *schedule.Store) error {
				return s.Remove(args[0])
			})
		},
	}
}

func removeSeriesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-series <series-id>",
		Short: "Remove every remaining occurrence of a recurring event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(func(s *schedule.Store) error {
				return s.RemoveSeries(args[0])
			})
		},
	}
}

func openCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open <file" + archive.Ext + ">",
		Short: "Replace the working schedule with a saved archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := archive.ReadFile(args[0], false)
			if err != nil {
				return err
			}
			err = a.mutate(func(s *schedule.Store) error {
				s.Replace(opened)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Opened %s\n", args[0])
			return nil
		},
	}
}

func importCmd(a *app) *cobra.Command {
	var until string

	cmd := &cobra.Command{
		Use:   "import <file.ics>",
		Short: "Add the timed events of an iCalendar file",
		Long: "Adds every timed VEVENT of the file as a standalone event. Recurring\n" +
			"VEVENTs are expanded. Nothing is saved if any occurrence overlaps.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cfg := ics.ExpandConfig{MaxOccurrencesPerEvent: a.cfg.Recurrence.MaxOccurrences}
			if until != "" {
				if cfg.Until, err = model.ParseDate(until); err != nil {
					return err
				}
			}

			vevents, parseErrs := ics.Parse(body)
			events, expandErrs := ics.Events(vevents, cfg)
			skipped := len(parseErrs) + len(expandErrs)
			if len(events) == 0 {
				return fmt.Errorf("no importable events in %s (%d skipped)", args[0], skipped)
			}

			err = a.mutate(func(s *schedule.Store) error {
				return explainOverlap(s.SaveBatch(events))
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d events, skipped %d\n", len(events), skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "Drop occurrences ending after this day, YYYY-MM-DD")
	return cmd
}

func exportCmd(a *app) *cobra.Command {
	var out, mount string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the schedule to a file or a removable drive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			data, err := export.Encode(s)
			if err != nil {
				if errors.Is(err, export.ErrEmptySchedule) {
					return errors.New("there are no events to export")
				}
				return err
			}

			if out != "" {
				return writeOut(cmd, out, data)
			}

			lister := drives.PartitionLister{FSTypes: a.cfg.Drives.FSTypes, RequireOpts: a.cfg.Drives.RequireOpts}
			monitor := drives.NewMonitor(lister, a.cfg.Drives.Poll, nil)
			dest, err := pickDrive(cmd.Context(), monitor, mount, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			err = dest.Install(data, drives.Files{
				Schedule: a.cfg.Export.ScheduleFilename,
				Plugin:   a.cfg.Export.PluginFile,
				Done:     a.cfg.Export.DoneFilename,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule written to %s\n", dest.Mountpoint)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write to this file ('-' for stdout) instead of a drive")
	cmd.Flags().StringVar(&mount, "drive", "", "Mountpoint of the destination drive")
	return cmd
}

func icsCmd(a *app) *cobra.Command {
	var out, summary string

	cmd := &cobra.Command{
		Use:   "ics",
		Short: "Export the schedule as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			doc, err := export.ICS(s, export.ICSOptions{Summary: summary})
			if err != nil {
				return err
			}
			return writeOut(cmd, out, []byte(doc))
		},
	}
	cmd.Flags().StringVar(&out, "out", "-", "Destination file ('-' for stdout)")
	cmd.Flags().StringVar(&summary, "summary", "Recording", "Event title")
	return cmd
}

func writeOut(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	appLog.Info("export written", "path", path, "bytes", len(data))
	return nil
}

// pickDrive refreshes the monitor once and chooses a destination from its
// snapshot. The snapshot is read-only here.
func pickDrive(ctx context.Context, m *drives.Monitor, mount string, in io.Reader, out io.Writer) (drives.Drive, error) {
	if err := m.Refresh(ctx); err != nil {
		return drives.Drive{}, err
	}
	available := m.Snapshot()
	if mount != "" {
		available = filterMount(available, mount)
	}
	return drives.Choose(available, promptDrive(in, out))
}

func filterMount(ds []drives.Drive, mount string) []drives.Drive {
	for _, d := range ds {
		if d.Mountpoint == mount {
			return []drives.Drive{d}
		}
	}
	return nil
}

// promptDrive asks on the terminal which destination to use.
func promptDrive(in io.Reader, out io.Writer) func([]drives.Drive) (int, error) {
	return func(ds []drives.Drive) (int, error) {
		for i, d := range ds {
			fmt.Fprintf(out, "[%d] %s\n", i+1, d)
		}
		fmt.Fprint(out, "Destination: ")
		var n int
		if _, err := fmt.Fscanln(in, &n); err != nil {
			return 0, fmt.Errorf("read choice: %w", err)
		}
		return n - 1, nil
	}
}
