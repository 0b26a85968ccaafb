// Package report persists per-file ingestion reports.
package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lechuhuuha/memcload/internal/domain"
	"github.com/lechuhuuha/memcload/util"
)

// Store persists run reports.
type Store interface {
	Save(ctx context.Context, rep domain.Report) error
}

// Nop discards reports.
type Nop struct{}

func (Nop) Save(context.Context, domain.Report) error { return nil }

// objectName is "<date>/<file base>.<run id>.json", dated by the run's finish time.
func objectName(rep domain.Report) string {
	base := strings.TrimSpace(filepath.Base(rep.File))
	if base == "" || base == "." {
		base = "unknown"
	}
	runID := rep.RunID
	if runID == "" {
		runID = fmt.Sprintf("%d", rep.Finished.UnixNano())
	}
	return rep.Finished.UTC().Format(util.DateLayout) + "/" + base + "." + runID + ".json"
}
