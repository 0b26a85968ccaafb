package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/lechuhuuha/memcload/internal/deadletter"
	"github.com/lechuhuuha/memcload/internal/domain"
	"github.com/lechuhuuha/memcload/internal/metrics"
	"github.com/lechuhuuha/memcload/internal/parser"
	"github.com/lechuhuuha/memcload/internal/report"
	"github.com/lechuhuuha/memcload/internal/writer"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

const (
	defaultJobQueueSize       = 10000
	defaultErrorRateThreshold = 0.01
	maxLineBytes              = 16 << 20
)

var (
	// ErrFatalRead means the input file could not be opened or streamed.
	ErrFatalRead = errors.New("fatal read error")
	// ErrUnknownDeviceType means a record has no configured destination.
	ErrUnknownDeviceType = errors.New("unknown device type")
	// ErrAborted means every worker stopped before the input was fully read.
	ErrAborted = errors.New("file run aborted")
)

// PipelineConfig tunes one file run.
type PipelineConfig struct {
	Workers            int
	BatchSize          int
	JobQueueSize       int
	Mode               domain.WriteMode
	ErrorRateThreshold float64
	DryRun             bool
	RunID              string
	// PushGateway, when set, receives the process metrics after each file.
	PushGateway string
}

// Sinks are the side outputs of a run. Nil members are ignored.
type Sinks struct {
	DeadLetters deadletter.Sink
	Reports     report.Store
}

// Pipeline runs the OPEN, STREAMING, DRAINING and REPORTED stages for one file at a time.
type Pipeline struct {
	parser  *parser.Parser
	dests   domain.Destinations
	writer  writer.Writer
	dead    deadletter.Sink
	reports report.Store
	logger  loggerpkg.Logger
	cfg     PipelineConfig
	now     func() time.Time
}

func NewPipeline(dests domain.Destinations, w writer.Writer, sinks Sinks, logr loggerpkg.Logger, cfg *PipelineConfig) *Pipeline {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	c := PipelineConfig{
		Workers:            defaultWorkers,
		BatchSize:          defaultBatchSize,
		JobQueueSize:       defaultJobQueueSize,
		ErrorRateThreshold: defaultErrorRateThreshold,
	}
	if cfg != nil {
		if cfg.Workers > 0 {
			c.Workers = cfg.Workers
		}
		if cfg.BatchSize > 0 {
			c.BatchSize = cfg.BatchSize
		}
		if cfg.JobQueueSize > 0 {
			c.JobQueueSize = cfg.JobQueueSize
		}
		if cfg.ErrorRateThreshold > 0 {
			c.ErrorRateThreshold = cfg.ErrorRateThreshold
		}
		c.Mode = cfg.Mode
		c.DryRun = cfg.DryRun
		c.RunID = cfg.RunID
		c.PushGateway = cfg.PushGateway
	}
	dead := sinks.DeadLetters
	if dead == nil {
		dead = deadletter.Nop{}
	}
	reports := sinks.Reports
	if reports == nil {
		reports = report.Nop{}
	}
	return &Pipeline{
		parser:  parser.New(logr),
		dests:   dests,
		writer:  w,
		dead:    dead,
		reports: reports,
		logger:  logr,
		cfg:     c,
		now:     time.Now,
	}
}

// Process ingests one gzip-compressed TSV file. Only ErrFatalRead, ErrAborted
// or a cancelled ctx is returned as an error; record-level failures are counted.
func (p *Pipeline) Process(ctx context.Context, path string) (domain.Report, error) {
	logr := p.logger.With(loggerpkg.F("file", path))
	rep := domain.Report{
		RunID:     p.cfg.RunID,
		File:      path,
		Mode:      p.cfg.Mode.String(),
		Workers:   p.cfg.Workers,
		Threshold: p.cfg.ErrorRateThreshold,
		DryRun:    p.cfg.DryRun,
		Started:   p.now().UTC(),
	}
	logr.Info("processing file", loggerpkg.F("mode", rep.Mode), loggerpkg.F("workers", rep.Workers))

	// OPEN
	f, err := os.Open(path)
	if err != nil {
		metrics.IncFiles("failed")
		logr.Error("cannot open file", loggerpkg.Err(err))
		return rep, fmt.Errorf("%w: open %s: %v", ErrFatalRead, path, err)
	}
	defer f.Close()
	gz, err := pgzip.NewReader(f)
	if err != nil {
		metrics.IncFiles("failed")
		logr.Error("cannot read gzip stream", loggerpkg.Err(err))
		return rep, fmt.Errorf("%w: gzip %s: %v", ErrFatalRead, path, err)
	}
	defer gz.Close()

	// STREAMING
	jobs := make(chan domain.Job, p.cfg.JobQueueSize)
	pool := NewWorkerPool(p.writer, p.dead, p.logger, &WorkerPoolConfig{
		Workers:   p.cfg.Workers,
		BatchSize: p.cfg.BatchSize,
		File:      path,
	})
	run := pool.Start(ctx, jobs)

	fileErrors, streamErr := p.stream(ctx, logr, path, gz, jobs, run.Done())

	// DRAINING
	close(jobs)
	counters := run.Wait()
	leftover := p.drainLeftover(ctx, logr, path, jobs)
	metrics.SetJobQueueDepth(0)
	counters.Errors += fileErrors + leftover

	rep.Processed = counters.Processed
	rep.Errors = counters.Errors
	rep.Finished = p.now().UTC()

	if streamErr != nil {
		metrics.IncFiles("failed")
		logr.Error("file run aborted",
			loggerpkg.F("processed", rep.Processed),
			loggerpkg.F("errors", rep.Errors),
			loggerpkg.Err(streamErr))
		return rep, streamErr
	}

	// REPORTED
	p.verdict(logr, &rep)
	metrics.IncFiles("ingested")
	if err := p.reports.Save(ctx, rep); err != nil {
		logr.Warn("failed to save run report", loggerpkg.Err(err))
	}
	if p.cfg.PushGateway != "" {
		if err := metrics.Push(ctx, p.cfg.PushGateway, "memcload", map[string]string{"run_id": p.cfg.RunID}); err != nil {
			logr.Warn("failed to push metrics", loggerpkg.Err(err))
		}
	}
	return rep, nil
}

// stream feeds jobs until input ends, every worker is gone, or ctx ends.
// It returns the parse and routing error count.
func (p *Pipeline) stream(ctx context.Context, logr loggerpkg.Logger, path string, r io.Reader, jobs chan<- domain.Job, workersDone <-chan struct{}) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	errCount := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := p.parser.Parse(line)
		if err != nil {
			errCount++
			metrics.AddRecordsFailed(metrics.KindParse, 1)
			logr.Error("cannot parse line", loggerpkg.F("line", lineNo), loggerpkg.F("content", line), loggerpkg.Err(err))
			p.deadLetter(ctx, logr, domain.DeadLetter{
				Kind:   domain.DeadLetterParse,
				File:   path,
				LineNo: lineNo,
				Line:   line,
				Reason: err.Error(),
			})
			continue
		}
		addr, ok := p.dests.Lookup(rec.DeviceType)
		if !ok {
			errCount++
			metrics.AddRecordsFailed(metrics.KindRouting, 1)
			logr.Error("unknown device type", loggerpkg.F("line", lineNo), loggerpkg.F("device_type", rec.DeviceType))
			p.deadLetter(ctx, logr, domain.DeadLetter{
				Kind:       domain.DeadLetterRouting,
				File:       path,
				LineNo:     lineNo,
				Line:       line,
				DeviceType: rec.DeviceType,
				Key:        rec.Key(),
				Reason:     fmt.Sprintf("%v: %s", ErrUnknownDeviceType, rec.DeviceType),
			})
			continue
		}

		job := domain.Job{Record: rec, Addr: addr, Mode: p.cfg.Mode, LineNo: lineNo}
		select {
		case jobs <- job:
			metrics.SetJobQueueDepth(len(jobs))
		case <-workersDone:
			logr.Error("all workers stopped, aborting file streaming", loggerpkg.F("line", lineNo))
			// The record that could not be queued still counts.
			return errCount + 1, fmt.Errorf("%w: %s: all workers stopped at line %d", ErrAborted, path, lineNo)
		case <-ctx.Done():
			return errCount + 1, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		logr.Error("cannot stream file", loggerpkg.F("line", lineNo), loggerpkg.Err(err))
		return errCount, fmt.Errorf("%w: stream %s: %v", ErrFatalRead, path, err)
	}
	return errCount, nil
}

// drainLeftover counts jobs still queued after every worker returned early.
func (p *Pipeline) drainLeftover(ctx context.Context, logr loggerpkg.Logger, path string, jobs <-chan domain.Job) int {
	var letters []domain.DeadLetter
	for job := range jobs {
		letters = append(letters, domain.DeadLetter{
			Kind:       domain.DeadLetterWrite,
			File:       path,
			LineNo:     job.LineNo,
			DeviceType: job.Record.DeviceType,
			Key:        job.Record.Key(),
			Addr:       job.Addr,
			Reason:     "no worker left to consume job",
			Time:       p.now().UTC(),
		})
	}
	if len(letters) == 0 {
		return 0
	}
	metrics.AddRecordsFailed(metrics.KindWrite, len(letters))
	logr.Warn("jobs left in queue after workers stopped", loggerpkg.F("count", len(letters)))
	if err := p.dead.Write(ctx, letters); err != nil {
		logr.Warn("failed to record dead letters", loggerpkg.F("count", len(letters)), loggerpkg.Err(err))
	}
	return len(letters)
}

// verdict fills the error rate fields and logs the accept/fail decision.
// The verdict never changes the outcome of the run.
func (p *Pipeline) verdict(logr loggerpkg.Logger, rep *domain.Report) {
	if rep.Processed == 0 {
		logr.Warn("no records processed, error rate unavailable", loggerpkg.F("errors", rep.Errors))
		return
	}
	rep.ErrorRate = float64(rep.Errors) / float64(rep.Processed)
	rep.RateKnown = true
	metrics.SetLastErrorRate(rep.ErrorRate)
	fields := []loggerpkg.Field{
		loggerpkg.F("processed", rep.Processed),
		loggerpkg.F("errors", rep.Errors),
		loggerpkg.F("error_rate", rep.ErrorRate),
		loggerpkg.F("threshold", rep.Threshold),
	}
	if rep.ErrorRate < rep.Threshold {
		rep.Accepted = true
		logr.Info("acceptable error rate, successful load", fields...)
		return
	}
	logr.Error("high error rate, failed load", fields...)
}

func (p *Pipeline) deadLetter(ctx context.Context, logr loggerpkg.Logger, l domain.DeadLetter) {
	if l.Time.IsZero() {
		l.Time = p.now().UTC()
	}
	if err := p.dead.Write(ctx, []domain.DeadLetter{l}); err != nil {
		logr.Warn("failed to record dead letter", loggerpkg.Err(err))
	}
}
