// Package maintenance orchestrates the periodic upkeep pass: auto-sharding,
// auto-compression, and integrity verification, per tracked table.
//
// One table's failure never aborts the pass. Each task's error is recorded
// in the run report and the pass moves on to the next task and table.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tickvault/tickvault/internal/checksum"
	"github.com/tickvault/tickvault/internal/compression"
	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/sharding"
)

// stopJoinTimeout bounds the wait for the scheduled loop to observe a stop.
const stopJoinTimeout = 5 * time.Second

// Options selects which tasks a maintenance pass runs.
type Options struct {
	AutoShard       bool
	AutoCompress    bool
	VerifyIntegrity bool

	// DryRunCompression makes the compression task report candidates
	// without rewriting any shard file.
	DryRunCompression bool
}

// DefaultOptions enables every task.
func DefaultOptions() Options {
	return Options{AutoShard: true, AutoCompress: true, VerifyIntegrity: true}
}

// TaskError records one failed task of a maintenance pass.
type TaskError struct {
	TableName string
	Task      string
	Error     string
}

// ShardOutcome describes the auto-shard task's result for one table.
type ShardOutcome struct {
	Created  bool
	ShardID  string
	RowCount int64
}

// IntegrityOutcome describes the verification task's result for one table.
type IntegrityOutcome struct {
	Created  checksum.AutoCreateResult
	Verified checksum.BatchResult
}

// Report is the full outcome of one maintenance pass.
type Report struct {
	RunID           string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64

	AutoShardResults      map[string]ShardOutcome
	AutoCompressResults   map[string][]compression.ShardResult
	IntegrityCheckResults map[string]IntegrityOutcome

	Errors      []TaskError
	TotalErrors int
	Success     bool
}

// Manager drives maintenance passes, on demand or on a schedule.
type Manager struct {
	mu sync.Mutex

	cfg         *config.Config
	sharding    *sharding.Manager
	compression *compression.Manager
	checksum    *checksum.Manager
	log         *slog.Logger

	running    bool
	stop       chan struct{}
	done       chan struct{}
	interval   time.Duration
	lastRun    time.Time
	lastReport *Report
	runs       int64
}

// NewManager creates a maintenance manager over the three task managers.
func NewManager(cfg *config.Config, shardingMgr *sharding.Manager, compressionMgr *compression.Manager, checksumMgr *checksum.Manager) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		cfg:         cfg,
		sharding:    shardingMgr,
		compression: compressionMgr,
		checksum:    checksumMgr,
		log:         logging.Component("maintenance"),
	}
}

// PerformMaintenance runs the selected tasks over every tracked table.
// Tasks run per table in shard, compress, verify order, so a freshly created
// shard is a compression candidate in the same pass.
func (m *Manager) PerformMaintenance(ctx context.Context, opts Options) *Report {
	report := &Report{
		RunID:                 uuid.NewString(),
		StartTime:             time.Now().UTC(),
		AutoShardResults:      make(map[string]ShardOutcome),
		AutoCompressResults:   make(map[string][]compression.ShardResult),
		IntegrityCheckResults: make(map[string]IntegrityOutcome),
	}

	m.log.Info("maintenance pass starting",
		"run_id", report.RunID,
		"tables", len(m.cfg.Maintenance.Tables))

	for _, table := range m.cfg.Maintenance.Tables {
		if opts.AutoShard {
			m.runAutoShard(ctx, &table, report)
		}
		if opts.AutoCompress {
			m.runAutoCompress(ctx, &table, report, opts.DryRunCompression)
		}
		if opts.VerifyIntegrity {
			m.runVerifyIntegrity(ctx, &table, report)
		}
	}

	report.EndTime = time.Now().UTC()
	report.DurationSeconds = report.EndTime.Sub(report.StartTime).Seconds()
	report.TotalErrors = len(report.Errors)
	report.Success = report.TotalErrors == 0

	m.mu.Lock()
	m.lastRun = report.EndTime
	m.lastReport = report
	m.runs++
	m.mu.Unlock()

	m.log.Info("maintenance pass complete",
		"run_id", report.RunID,
		"duration_s", report.DurationSeconds,
		"errors", report.TotalErrors)

	return report
}

func (m *Manager) runAutoShard(ctx context.Context, table *config.TableConfig, report *Report) {
	strategy := table.ShardStrategy
	if strategy == "" {
		strategy = m.cfg.Sharding.DefaultStrategy
	}

	shard, err := m.sharding.CreateShardIfNeeded(ctx, table.Name, strategy)
	if err != nil {
		m.recordError(report, table.Name, "auto_shard", err)
		return
	}

	outcome := ShardOutcome{}
	if shard != nil {
		outcome.Created = true
		outcome.ShardID = shard.ShardID
		outcome.RowCount = shard.RowCount
	}
	report.AutoShardResults[table.Name] = outcome
}

func (m *Manager) runAutoCompress(ctx context.Context, table *config.TableConfig, report *Report, dryRun bool) {
	strategy := table.CompressionStrategy
	if strategy == "" {
		strategy = "time_based"
	}

	results, err := m.compression.AutoCompressTable(ctx, table.Name, strategy, dryRun)
	if err != nil {
		m.recordError(report, table.Name, "auto_compress", err)
		return
	}
	report.AutoCompressResults[table.Name] = results

	for i := range results {
		if results[i].Error != "" {
			m.recordError(report, table.Name, "auto_compress",
				fmt.Errorf("shard %s: %s", results[i].ShardID, results[i].Error))
		}
	}
}

func (m *Manager) runVerifyIntegrity(ctx context.Context, table *config.TableConfig, report *Report) {
	strategy := table.ChecksumStrategy
	if strategy == "" {
		strategy = "time_based"
	}

	created, err := m.checksum.AutoCreate(ctx, table.Name, strategy, 0)
	if err != nil {
		m.recordError(report, table.Name, "verify_integrity", err)
		return
	}

	verified, err := m.checksum.BatchVerify(ctx, table.Name, strategy, 0)
	if err != nil {
		m.recordError(report, table.Name, "verify_integrity", err)
		return
	}

	report.IntegrityCheckResults[table.Name] = IntegrityOutcome{
		Created:  created,
		Verified: verified,
	}

	if verified.InvalidRecords > 0 {
		m.log.Warn("integrity check found invalid records",
			"table", table.Name,
			"invalid", verified.InvalidRecords)
	}
}

func (m *Manager) recordError(report *Report, table, task string, err error) {
	report.Errors = append(report.Errors, TaskError{
		TableName: table,
		Task:      task,
		Error:     err.Error(),
	})
	m.log.Error("maintenance task failed",
		"table", table,
		"task", task,
		"error", err)
}

// StartScheduledMaintenance begins running maintenance passes every
// intervalHours. Non-blocking. Starting while already running is rejected.
func (m *Manager) StartScheduledMaintenance(intervalHours float64, opts Options) error {
	if intervalHours <= 0 {
		return fmt.Errorf("maintenance interval %g hours: %w", intervalHours, errors.ErrInvalidInterval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("scheduled maintenance: %w", errors.ErrAlreadyRunning)
	}

	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.interval = time.Duration(intervalHours * float64(time.Hour))

	go m.loop(m.stop, m.done, m.interval, opts)

	m.log.Info("scheduled maintenance started", "interval_hours", intervalHours)
	return nil
}

func (m *Manager) loop(stop, done chan struct{}, interval time.Duration, opts Options) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.PerformMaintenance(context.Background(), opts)
		}
	}
}

// StopScheduledMaintenance stops the scheduled loop, waiting a bounded time
// for it to observe the stop signal. A pass already in flight finishes.
func (m *Manager) StopScheduledMaintenance() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	close(m.stop)
	done := m.done
	m.running = false
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		m.log.Warn("maintenance loop did not stop within join timeout")
	}

	m.log.Info("scheduled maintenance stopped")
	return nil
}

// Status describes the scheduler's current state.
type Status struct {
	Running       bool
	IntervalHours float64
	LastRunTime   time.Time
	LastRunID     string
	LastRunErrors int
	RunsCompleted int64
}

// Status returns the scheduler's current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Running:       m.running,
		LastRunTime:   m.lastRun,
		RunsCompleted: m.runs,
	}
	if m.running {
		st.IntervalHours = m.interval.Hours()
	}
	if m.lastReport != nil {
		st.LastRunID = m.lastReport.RunID
		st.LastRunErrors = m.lastReport.TotalErrors
	}
	return st
}

// DatabaseStatus is a point-in-time snapshot of the storage subsystem.
type DatabaseStatus struct {
	GeneratedAt time.Time

	ShardStatistics       map[string]sharding.TableStats
	CompressionStatistics compression.Statistics
	IntegrityReport       *checksum.IntegrityReport

	Scheduler Status
}

// DatabaseStatus assembles the subsystem-wide status snapshot.
func (m *Manager) DatabaseStatus(ctx context.Context) (*DatabaseStatus, error) {
	shardStats, err := m.sharding.Statistics(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "shard statistics")
	}

	compStats, err := m.compression.GetStatistics(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "compression statistics")
	}

	integrity, err := m.checksum.GetIntegrityReport(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "integrity report")
	}

	return &DatabaseStatus{
		GeneratedAt:           time.Now().UTC(),
		ShardStatistics:       shardStats,
		CompressionStatistics: compStats,
		IntegrityReport:       integrity,
		Scheduler:             m.Status(),
	}, nil
}
