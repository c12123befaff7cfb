// Package drives supplies the removable destinations a schedule can be
// written to, and writes it onto the one the user picks.
package drives

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"

	appLog "reccal/internal/log"
)

const gib = 1 << 30

var ErrNoDrive = errors.New("drives: no writable destination")

// Drive is a mounted removable volume.
type Drive struct {
	Mountpoint  string
	Device      string
	Fstype      string
	Total       uint64
	Used        uint64
	UsedPercent float64
}

func (d Drive) String() string {
	return fmt.Sprintf("%s\tCapacity: %.1fGB, Used: %.1f%%", d.Mountpoint, float64(d.Total)/gib, d.UsedPercent)
}

// Lister returns the currently mounted destinations.
type Lister interface {
	List(ctx context.Context) ([]Drive, error)
}

// PartitionLister lists partitions through gopsutil and keeps those whose
// filesystem type is one of FSTypes and whose mount options include every
// entry of RequireOpts.
type PartitionLister struct {
	FSTypes     []string
	RequireOpts []string
}

func (l PartitionLister) List(ctx context.Context) ([]Drive, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("drives: list partitions: %w", err)
	}

	out := make([]Drive, 0)
	for _, p := range parts {
		if !l.accepts(p) {
			continue
		}
		d := Drive{Mountpoint: p.Mountpoint, Device: p.Device, Fstype: p.Fstype}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			// Volumes can vanish between listing and stat; skip them.
			appLog.Debug("drives: usage unavailable", "mount", p.Mountpoint, "reason", err.Error())
			continue
		}
		d.Total = usage.Total
		d.Used = usage.Used
		d.UsedPercent = usage.UsedPercent
		out = append(out, d)
	}
	return out, nil
}

func (l PartitionLister) accepts(p disk.PartitionStat) bool {
	if !slices.ContainsFunc(l.FSTypes, func(fs string) bool { return strings.EqualFold(fs, p.Fstype) }) {
		return false
	}
	for _, want := range l.RequireOpts {
		if !slices.Contains(p.Opts, want) {
			return false
		}
	}
	return true
}

// Choose picks the destination to write. With several drives the caller's
// pick function decides; it receives a copy of the list.
func Choose(drives []Drive, pick func([]Drive) (int, error)) (Drive, error) {
	switch len(drives) {
	case 0:
		return Drive{}, ErrNoDrive
	case 1:
		return drives[0], nil
	}
	if pick == nil {
		return Drive{}, errors.New("drives: several destinations and no way to choose")
	}
	i, err := pick(slices.Clone(drives))
	if err != nil {
		return Drive{}, err
	}
	if i < 0 || i >= len(drives) {
		return Drive{}, fmt.Errorf("drives: choice %d out of range", i)
	}
	return drives[i], nil
}

// Files names what Install writes.
type Files struct {
	Schedule string
	// Plugin is a local file copied next to the schedule; empty skips it.
	Plugin string
	// Done is the recorder's completion marker, removed first.
	Done string
}

// Install removes the completion marker, copies the plugin file and writes
// the schedule. Files are written to a temp name and renamed into place.
func (d Drive) Install(schedule []byte, files Files) error {
	if files.Done != "" {
		err := os.Remove(filepath.Join(d.Mountpoint, files.Done))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("drives: remove marker: %w", err)
		}
	}

	if files.Plugin != "" {
		src, err := os.Open(files.Plugin)
		if err != nil {
			return fmt.Errorf("drives: open plugin: %w", err)
		}
		defer src.Close()
		if err := writeAtomic(filepath.Join(d.Mountpoint, filepath.Base(files.Plugin)), src); err != nil {
			return fmt.Errorf("drives: copy plugin: %w", err)
		}
	}

	if err := writeAtomic(filepath.Join(d.Mountpoint, files.Schedule), strings.NewReader(string(schedule))); err != nil {
		return fmt.Errorf("drives: write schedule: %w", err)
	}
	appLog.Info("drives: schedule installed", "mount", d.Mountpoint, "file", files.Schedule, "bytes", len(schedule))
	return nil
}

func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".reccal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
