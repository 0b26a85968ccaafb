package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lechuhuuha/memcload/internal/codec"
	"github.com/lechuhuuha/memcload/internal/deadletter"
	"github.com/lechuhuuha/memcload/internal/domain"
	"github.com/lechuhuuha/memcload/internal/metrics"
	"github.com/lechuhuuha/memcload/internal/writer"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

const (
	defaultWorkers   = 4
	defaultBatchSize = 5000
)

var errWorkerPanic = errors.New("worker panic")

// WorkerPoolConfig tunes the consumer side of a file run.
type WorkerPoolConfig struct {
	Workers   int
	BatchSize int
	// File is attached to logs and dead letters.
	File string
}

// WorkerPool drains a job queue with a fixed number of workers.
type WorkerPool struct {
	writer    writer.Writer
	dead      deadletter.Sink
	logger    loggerpkg.Logger
	workers   int
	batchSize int
	file      string
}

func NewWorkerPool(w writer.Writer, dead deadletter.Sink, logr loggerpkg.Logger, cfg *WorkerPoolConfig) *WorkerPool {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	if dead == nil {
		dead = deadletter.Nop{}
	}
	workers := defaultWorkers
	batchSize := defaultBatchSize
	file := ""
	if cfg != nil {
		if cfg.Workers > 0 {
			workers = cfg.Workers
		}
		if cfg.BatchSize > 0 {
			batchSize = cfg.BatchSize
		}
		file = cfg.File
	}
	return &WorkerPool{
		writer:    w,
		dead:      dead,
		logger:    logr,
		workers:   workers,
		batchSize: batchSize,
		file:      file,
	}
}

// Workers returns the configured worker count.
func (p *WorkerPool) Workers() int { return p.workers }

// PoolRun is a started set of workers consuming one job queue.
type PoolRun struct {
	done    chan struct{}
	results chan domain.RunCounters
}

// Done is closed once every worker has returned.
func (r *PoolRun) Done() <-chan struct{} { return r.done }

// Wait blocks until every worker has returned and sums their counters.
func (r *PoolRun) Wait() domain.RunCounters {
	<-r.done
	var total domain.RunCounters
	for c := range r.results {
		total.Add(c)
	}
	return total
}

// Start launches the workers. Workers stop when jobs is closed and drained,
// or earlier when the writer reports it can no longer deliver anything.
func (p *WorkerPool) Start(ctx context.Context, jobs <-chan domain.Job) *PoolRun {
	run := &PoolRun{
		done:    make(chan struct{}),
		results: make(chan domain.RunCounters, p.workers),
	}
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			run.results <- p.work(ctx, id, jobs)
		}(i)
	}
	go func() {
		wg.Wait()
		close(run.results)
		close(run.done)
	}()
	return run
}

func (p *WorkerPool) work(ctx context.Context, id int, jobs <-chan domain.Job) domain.RunCounters {
	var counters domain.RunCounters
	logr := p.logger.With(loggerpkg.F("worker_id", id), loggerpkg.F("file", p.file))
	batches := make(map[string]*domain.Batch)

	for job := range jobs {
		metrics.SetJobQueueDepth(len(jobs))
		var err error
		switch job.Mode {
		case domain.ModeSingle:
			err = p.writeOne(ctx, logr, job, &counters)
		default:
			b, ok := batches[job.Addr]
			if !ok {
				b = domain.NewBatch(job.Addr)
				batches[job.Addr] = b
			}
			b.Add(job.Record.Key(), codec.Encode(job.Record))
			if b.Len() >= p.batchSize {
				err = p.flush(ctx, logr, b, &counters)
			}
		}
		if errors.Is(err, writer.ErrUnrecoverable) {
			p.abandon(logr, batches, &counters)
			logr.Error("worker stopping early", loggerpkg.Err(err))
			return counters
		}
	}

	addrs := make([]string, 0, len(batches))
	for addr := range batches {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		if err := p.flush(ctx, logr, batches[addr], &counters); errors.Is(err, writer.ErrUnrecoverable) {
			p.abandon(logr, batches, &counters)
			logr.Error("worker stopping early", loggerpkg.Err(err))
			return counters
		}
	}
	logr.Debug("worker finished",
		loggerpkg.F("processed", counters.Processed),
		loggerpkg.F("errors", counters.Errors))
	return counters
}

func (p *WorkerPool) writeOne(ctx context.Context, logr loggerpkg.Logger, job domain.Job, counters *domain.RunCounters) error {
	key := job.Record.Key()
	value := codec.Encode(job.Record)
	err := safeCall(func() error { return p.writer.WriteOne(ctx, job.Addr, key, value) })
	if err == nil {
		counters.Processed++
		metrics.AddRecordsProcessed(1)
		return nil
	}
	counters.Errors++
	metrics.AddRecordsFailed(metrics.KindWrite, 1)
	logr.Error("cannot write to cache",
		loggerpkg.F("addr", job.Addr),
		loggerpkg.F("device_type", job.Record.DeviceType),
		loggerpkg.F("key", key),
		loggerpkg.F("line", job.LineNo),
		loggerpkg.Err(err))
	p.deadLetters(ctx, logr, []domain.DeadLetter{{
		Kind:       domain.DeadLetterWrite,
		File:       p.file,
		LineNo:     job.LineNo,
		DeviceType: job.Record.DeviceType,
		Key:        key,
		Addr:       job.Addr,
		Reason:     err.Error(),
		Time:       time.Now().UTC(),
	}})
	return err
}

// flush writes b with one multi-set and resets it. Every job in a failed batch counts as an error.
func (p *WorkerPool) flush(ctx context.Context, logr loggerpkg.Logger, b *domain.Batch, counters *domain.RunCounters) error {
	if b.Len() == 0 {
		return nil
	}
	defer b.Reset()
	err := safeCall(func() error { return p.writer.WriteBatch(ctx, b.Addr, b.Items) })
	if err == nil {
		counters.Processed += b.Jobs
		metrics.AddRecordsProcessed(b.Jobs)
		return nil
	}
	counters.Errors += b.Jobs
	metrics.AddRecordsFailed(metrics.KindWrite, b.Jobs)
	logr.Error("cannot write batch to cache",
		loggerpkg.F("addr", b.Addr),
		loggerpkg.F("records", b.Jobs),
		loggerpkg.Err(err))
	p.deadLetters(ctx, logr, batchLetters(p.file, b, err))
	return err
}

// abandon counts every pending batched job as failed without writing it.
func (p *WorkerPool) abandon(logr loggerpkg.Logger, batches map[string]*domain.Batch, counters *domain.RunCounters) {
	for _, b := range batches {
		if b.Jobs == 0 {
			continue
		}
		counters.Errors += b.Jobs
		metrics.AddRecordsFailed(metrics.KindWrite, b.Jobs)
		logr.Warn("dropping pending batch", loggerpkg.F("addr", b.Addr), loggerpkg.F("records", b.Jobs))
		b.Reset()
	}
}

func (p *WorkerPool) deadLetters(ctx context.Context, logr loggerpkg.Logger, letters []domain.DeadLetter) {
	if err := p.dead.Write(ctx, letters); err != nil {
		logr.Warn("failed to record dead letters", loggerpkg.F("count", len(letters)), loggerpkg.Err(err))
	}
}

func batchLetters(file string, b *domain.Batch, cause error) []domain.DeadLetter {
	now := time.Now().UTC()
	keys := b.Keys()
	letters := make([]domain.DeadLetter, 0, len(keys))
	for _, key := range keys {
		letters = append(letters, domain.DeadLetter{
			Kind:   domain.DeadLetterWrite,
			File:   file,
			Key:    key,
			Addr:   b.Addr,
			Reason: cause.Error(),
			Time:   now,
		})
	}
	return letters
}

// safeCall turns a panic inside fn into an error so the job is still accounted for.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errWorkerPanic, r)
		}
	}()
	return fn()
}
