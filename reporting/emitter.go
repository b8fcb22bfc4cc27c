package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-coverage/types"
)

const (
	LatestFilename    = "latest.json"
	HTMLFilename      = "test_report.html"
	RecordFilePrefix  = "report_"
	RecordTimeLayout  = "20060102_150405"
	maxNameCollisions = 1000
)

// RecordHandle locates the artifacts written by one Emit call.
type RecordHandle struct {
	RecordPath string
	LatestPath string
	HTMLPath   string
}

// ReportEmitter persists a run summary.
type ReportEmitter interface {
	Emit(ctx context.Context, summary *types.ProjectSummary, dir string) (RecordHandle, error)
}

// Emitter writes the historical record, latest.json and the HTML report.
type Emitter struct {
	log    log.Logger
	html   *HTMLFormatter
	tracer trace.Tracer
}

var _ ReportEmitter = (*Emitter)(nil)

func NewEmitter(logger log.Logger) (*Emitter, error) {
	if logger == nil {
		logger = log.Root()
	}
	html, err := NewHTMLFormatter()
	if err != nil {
		return nil, err
	}
	return &Emitter{
		log:    logger.New("component", "emitter"),
		html:   html,
		tracer: otel.Tracer("report emitter"),
	}, nil
}

// BuildRecord assembles the record for summary. previous is the last latest
// record, or nil. Re-emitting a run keeps the trend it was first emitted with.
func BuildRecord(summary *types.ProjectSummary, previous *Record) *Record {
	rec := &Record{
		SchemaVersion:   SchemaVersion,
		Summary:         NewRecordSummary(summary),
		Recommendations: Recommend(summary),
	}
	switch {
	case previous == nil:
	case previous.Summary.RunID == summary.RunID:
		rec.Trend = previous.Trend
	default:
		rec.Trend = ComputeTrend(previous.Summary, rec.Summary)
	}
	return rec
}

// Emit writes every artifact into dir. An existing historical record is never
// overwritten.
func (e *Emitter) Emit(ctx context.Context, summary *types.ProjectSummary, dir string) (handle RecordHandle, err error) {
	ctx, span := e.tracer.Start(ctx, "emit report")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if summary == nil {
		return RecordHandle{}, errors.New("summary is required")
	}
	if err := ctx.Err(); err != nil {
		return RecordHandle{}, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return RecordHandle{}, fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	latestPath := filepath.Join(dir, LatestFilename)
	previous, err := LoadRecord(latestPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			e.log.Warn("Ignoring unreadable previous record", "path", latestPath, "err", err)
		}
		previous = nil
	}

	rec := BuildRecord(summary, previous)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return RecordHandle{}, fmt.Errorf("failed to encode record: %w", err)
	}
	data = append(data, '\n')

	recordPath, err := writeExclusive(dir, RecordFilePrefix+summary.Timestamp.UTC().Format(RecordTimeLayout), ".json", data)
	if err != nil {
		return RecordHandle{}, fmt.Errorf("failed to write record: %w", err)
	}
	if err := writeAtomic(latestPath, data); err != nil {
		return RecordHandle{}, fmt.Errorf("failed to write %s: %w", LatestFilename, err)
	}

	page, err := e.html.Format(rec)
	if err != nil {
		return RecordHandle{}, err
	}
	htmlPath := filepath.Join(dir, HTMLFilename)
	if err := writeAtomic(htmlPath, []byte(page)); err != nil {
		return RecordHandle{}, fmt.Errorf("failed to write %s: %w", HTMLFilename, err)
	}

	e.log.Info("Report written", "record", recordPath, "latest", latestPath, "html", htmlPath)
	return RecordHandle{RecordPath: recordPath, LatestPath: latestPath, HTMLPath: htmlPath}, nil
}

// writeExclusive creates base+ext, or base_N+ext when the name is taken.
func writeExclusive(dir, base, ext string, data []byte) (string, error) {
	for n := 0; n < maxNameCollisions; n++ {
		name := base + ext
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", base, n, ext)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			return "", errors.Join(err, f.Close(), os.Remove(path))
		}
		if err := f.Close(); err != nil {
			return "", errors.Join(err, os.Remove(path))
		}
		return path, nil
	}
	return "", fmt.Errorf("no free record name for %s after %d attempts", base, maxNameCollisions)
}

// writeAtomic replaces path through a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		return errors.Join(err, tmp.Close(), os.Remove(tmpName))
	}
	if err := tmp.Sync(); err != nil {
		return errors.Join(err, tmp.Close(), os.Remove(tmpName))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(err, os.Remove(tmpName))
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return errors.Join(err, os.Remove(tmpName))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Join(err, os.Remove(tmpName))
	}
	return nil
}
