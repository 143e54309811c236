package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

var reportFile = regexp.MustCompile(`^(.+)_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})_UTC\.json(\.gz)?$`)

type ReportFile struct {
	Path       string
	ReportType string
	WrittenAt  time.Time
}

// List returns the reports in the output directory, newest first. Files
// that do not follow the report naming scheme are ignored.
func (w *Writer) List() ([]ReportFile, error) {
	entries, err := os.ReadDir(w.Settings().Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	var reports []ReportFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := reportFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		at, err := time.Parse(timestampLayout, m[2])
		if err != nil {
			continue
		}
		reports = append(reports, ReportFile{
			Path:       filepath.Join(w.Settings().Dir, e.Name()),
			ReportType: m[1],
			WrittenAt:  at,
		})
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].WrittenAt.After(reports[j].WrittenAt)
	})
	return reports, nil
}

// Cleanup removes reports older than MaxAge and keeps at most
// MaxFilesPerType of each type. Zero disables either limit.
func (w *Writer) Cleanup(ctx context.Context) (int, error) {
	settings := w.Settings()
	reports, err := w.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Time{}
	if settings.MaxAge > 0 {
		cutoff = w.now().UTC().Add(-settings.MaxAge)
	}

	kept := map[string]int{}
	removed := 0
	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		expired := !cutoff.IsZero() && r.WrittenAt.Before(cutoff)
		overflow := settings.MaxFilesPerType > 0 && kept[r.ReportType] >= settings.MaxFilesPerType
		if !expired && !overflow {
			kept[r.ReportType]++
			continue
		}

		if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", r.Path, err)
		}
		removed++
	}

	zerolog.Ctx(ctx).Info().Int("removed", removed).Msg("report retention applied")
	return removed, nil
}
