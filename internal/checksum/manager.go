package checksum

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/spaolacci/murmur3"

	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/metadata"
	"github.com/tickvault/tickvault/internal/types"
)

// stopJoinTimeout bounds the wait for scheduled sweeps to observe a stop.
const stopJoinTimeout = 5 * time.Second

// scheduledBatchLimit caps the records one scheduled sweep re-verifies.
const scheduledBatchLimit = 1000

// Manager computes, persists, and verifies per-record checksums.
type Manager struct {
	mu sync.RWMutex

	store *metadata.Store
	cfg   *config.Config
	log   *slog.Logger

	strategies map[string]Strategy

	// scheduled sweeps by table
	schedules map[string]chan struct{}
	wg        sync.WaitGroup

	stats ManagerStats
}

// ManagerStats holds this instance's counters.
type ManagerStats struct {
	ChecksumsCreated int64
	RecordsVerified  int64
	MismatchesFound  int64
	LastVerifyTime   time.Time
}

// NewManager creates a checksum manager with the built-in time-based and
// critical-data strategies registered.
func NewManager(store *metadata.Store, cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	m := &Manager{
		store:      store,
		cfg:        cfg,
		log:        logging.Component("checksum"),
		strategies: make(map[string]Strategy),
		schedules:  make(map[string]chan struct{}),
	}

	m.Register(NewTimeBased(float64(cfg.Checksum.VerifyIntervalDays)))
	m.Register(NewCriticalData(float64(cfg.Checksum.CriticalIntervalDays)))

	return m
}

// Register adds a strategy under its name, replacing any previous one.
func (m *Manager) Register(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.Name()] = s
}

func (m *Manager) strategy(name string) (Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[name]
	if !ok {
		return nil, errors.NewUnknownStrategy("checksum", name)
	}
	return s, nil
}

// Generate computes the digest of a record over the ordered field list.
// The same record and field list always produce the same digest; the field
// names participate in the payload, so different field subsets produce
// different digests even over identical values.
func Generate(bar *types.Bar, fields []string) string {
	var sb strings.Builder
	for _, f := range fields {
		v, _ := bar.Field(f)
		sb.WriteString(f)
		sb.WriteByte('=')
		sb.WriteString(v)
		sb.WriteByte(0x1f)
	}
	h1, h2 := murmur3.Sum128([]byte(sb.String()))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// CreateRecord computes and persists a checksum record for one row, with
// is_valid true and verified_at set to now. The strategy name is validated
// up front; a missing row is an error since the caller named it explicitly.
func (m *Manager) CreateRecord(ctx context.Context, table string, recordID int64, strategyName string) (*types.ChecksumRecord, error) {
	if table == "" {
		return nil, errors.NewMissingArgument("table")
	}
	if _, err := m.strategy(strategyName); err != nil {
		return nil, err
	}

	bar, err := m.store.BarByID(ctx, table, recordID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &types.ChecksumRecord{
		TableName:      table,
		RecordID:       recordID,
		Checksum:       Generate(bar, m.cfg.Checksum.Fields),
		ChecksumFields: m.cfg.Checksum.Fields,
		CreatedAt:      now,
		VerifiedAt:     now,
		IsValid:        true,
	}

	if err := m.store.UpsertChecksum(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "persist checksum for %s id=%d", table, recordID)
	}
	if err := m.store.UpdateBarChecksum(ctx, table, recordID, rec.Checksum); err != nil {
		return nil, errors.Wrapf(err, "cache checksum on %s id=%d", table, recordID)
	}

	m.mu.Lock()
	m.stats.ChecksumsCreated++
	m.mu.Unlock()

	return rec, nil
}

// VerificationResult describes one integrity verification.
type VerificationResult struct {
	TableName       string
	RecordID        int64
	IsValid         bool
	StoredChecksum  string
	CurrentChecksum string
	VerifiedAt      time.Time
	Error           string
}

// VerifyRecord recomputes the digest from current field values and compares
// it to the stored one. A missing record or missing checksum row yields
// is_valid=false with a descriptive error text, never a Go error: both are
// expected steady-state conditions.
func (m *Manager) VerifyRecord(ctx context.Context, table string, recordID int64) VerificationResult {
	res := VerificationResult{TableName: table, RecordID: recordID}

	rec, err := m.store.Checksum(ctx, table, recordID)
	if err != nil {
		res.Error = fmt.Sprintf("load checksum: %v", err)
		return res
	}
	if rec == nil {
		res.Error = "no checksum record exists for this record"
		return res
	}
	res.StoredChecksum = rec.Checksum

	bar, err := m.store.BarByID(ctx, table, recordID)
	if err != nil {
		if errors.IsNotFound(err) {
			res.Error = "record no longer exists"
		} else {
			res.Error = fmt.Sprintf("load record: %v", err)
		}
		return res
	}

	res.CurrentChecksum = Generate(bar, rec.ChecksumFields)
	res.IsValid = res.CurrentChecksum == res.StoredChecksum
	res.VerifiedAt = time.Now().UTC()

	if err := m.store.UpdateVerification(ctx, table, recordID, res.IsValid, res.VerifiedAt); err != nil {
		res.Error = fmt.Sprintf("persist verification: %v", err)
	}

	m.mu.Lock()
	m.stats.RecordsVerified++
	if !res.IsValid {
		m.stats.MismatchesFound++
	}
	m.stats.LastVerifyTime = res.VerifiedAt
	m.mu.Unlock()

	if !res.IsValid {
		m.log.Warn("checksum mismatch",
			"table", table,
			"record_id", recordID,
			"stored", res.StoredChecksum,
			"current", res.CurrentChecksum)
	}

	return res
}

// BatchResult describes one batch verification sweep.
type BatchResult struct {
	TotalChecked     int64
	ValidRecords     int64
	InvalidRecords   int64
	Errors           []string
	VerificationTime float64
}

// BatchVerify walks up to limit existing checksum rows of a table, asks the
// named strategy which are due, and re-verifies those. Per-record failures
// are recorded and do not abort the sweep. limit <= 0 checks every row.
func (m *Manager) BatchVerify(ctx context.Context, table, strategyName string, limit int) (BatchResult, error) {
	if table == "" {
		return BatchResult{}, errors.NewMissingArgument("table")
	}
	strat, err := m.strategy(strategyName)
	if err != nil {
		return BatchResult{}, err
	}

	recs, err := m.store.Checksums(ctx, table, limit)
	if err != nil {
		return BatchResult{}, errors.Wrapf(err, "list checksums for %s", table)
	}

	began := time.Now()
	now := began.UTC()

	var result BatchResult
	for i := range recs {
		rec := &recs[i]

		ageDays := now.Sub(rec.CreatedAt).Hours() / 24
		sinceDays := math.Inf(1)
		if !rec.VerifiedAt.IsZero() {
			sinceDays = now.Sub(rec.VerifiedAt).Hours() / 24
		}

		if !strat.ShouldVerify(ageDays, sinceDays) {
			continue
		}

		vr := m.VerifyRecord(ctx, table, rec.RecordID)
		result.TotalChecked++
		switch {
		case vr.Error != "" && vr.StoredChecksum == "":
			result.Errors = append(result.Errors,
				fmt.Sprintf("record %d: %s", rec.RecordID, vr.Error))
		case vr.IsValid:
			result.ValidRecords++
		default:
			result.InvalidRecords++
			if vr.Error != "" {
				result.Errors = append(result.Errors,
					fmt.Sprintf("record %d: %s", rec.RecordID, vr.Error))
			}
		}
	}

	result.VerificationTime = time.Since(began).Seconds()
	return result, nil
}

// AutoCreateResult describes one auto-creation sweep.
type AutoCreateResult struct {
	TotalProcessed    int64
	SuccessfulCreates int64
	Errors            []string
	ProcessingTime    float64
}

// AutoCreate walks records currently lacking a checksum, batchSize at a
// time, and creates checksum rows for them. Per-record failures are
// recorded and do not abort the sweep.
func (m *Manager) AutoCreate(ctx context.Context, table, strategyName string, batchSize int) (AutoCreateResult, error) {
	if table == "" {
		return AutoCreateResult{}, errors.NewMissingArgument("table")
	}
	if _, err := m.strategy(strategyName); err != nil {
		return AutoCreateResult{}, err
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	began := time.Now()
	var result AutoCreateResult

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		bars, err := m.store.BarsWithoutChecksum(ctx, table, batchSize)
		if err != nil {
			return result, errors.Wrapf(err, "list unchecksummed rows for %s", table)
		}
		if len(bars) == 0 {
			break
		}

		for i := range bars {
			result.TotalProcessed++
			if _, err := m.CreateRecord(ctx, table, bars[i].ID, strategyName); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("record %d: %v", bars[i].ID, err))
				continue
			}
			result.SuccessfulCreates++
		}

		if len(bars) < batchSize {
			break
		}
	}

	result.ProcessingTime = time.Since(began).Seconds()
	return result, nil
}

// IntegrityReport summarizes verification state across checksum records.
type IntegrityReport struct {
	TotalRecords        int64
	ValidRecords        int64
	InvalidRecords      int64
	UnverifiedRecords   int64
	IntegrityPercentage float64

	// ByTable breaks the counts down per table.
	ByTable map[string]TableIntegrity

	// StalenessBuckets counts verified records by days since their last
	// verification.
	StalenessBuckets map[string]int64

	// StalenessQuantiles holds the p50/p90/p99 of days since last
	// verification, from a DDSketch over the verified population.
	StalenessQuantiles map[string]float64
}

// TableIntegrity summarizes one table's verification state.
type TableIntegrity struct {
	Total      int64
	Valid      int64
	Invalid    int64
	Unverified int64
}

// GetIntegrityReport builds the verification-state report. An empty table
// name covers every table.
func (m *Manager) GetIntegrityReport(ctx context.Context, table string) (*IntegrityReport, error) {
	recs, err := m.store.AllChecksums(ctx, table)
	if err != nil {
		return nil, errors.Wrap(err, "list checksums")
	}

	report := &IntegrityReport{
		ByTable:            make(map[string]TableIntegrity),
		StalenessBuckets:   make(map[string]int64),
		StalenessQuantiles: make(map[string]float64),
	}

	sketch, err := ddsketch.NewDefaultDDSketch(m.cfg.Checksum.SketchAccuracy)
	if err != nil {
		return nil, errors.Wrap(err, "create staleness sketch")
	}

	now := time.Now().UTC()
	for i := range recs {
		rec := &recs[i]
		report.TotalRecords++

		ti := report.ByTable[rec.TableName]
		ti.Total++

		if rec.VerifiedAt.IsZero() {
			report.UnverifiedRecords++
			ti.Unverified++
			report.ByTable[rec.TableName] = ti
			continue
		}

		if rec.IsValid {
			report.ValidRecords++
			ti.Valid++
		} else {
			report.InvalidRecords++
			ti.Invalid++
		}
		report.ByTable[rec.TableName] = ti

		staleDays := now.Sub(rec.VerifiedAt).Hours() / 24
		report.StalenessBuckets[stalenessBucket(staleDays)]++
		// sketch accepts only positive values
		if staleDays <= 0 {
			staleDays = 1e-9
		}
		_ = sketch.Add(staleDays)
	}

	if sketch.GetCount() > 0 {
		for _, q := range []struct {
			name string
			q    float64
		}{{"p50", 0.5}, {"p90", 0.9}, {"p99", 0.99}} {
			if v, err := sketch.GetValueAtQuantile(q.q); err == nil {
				report.StalenessQuantiles[q.name] = v
			}
		}
	}

	if report.TotalRecords > 0 {
		report.IntegrityPercentage =
			float64(report.TotalRecords-report.InvalidRecords) / float64(report.TotalRecords) * 100
	} else {
		report.IntegrityPercentage = 100
	}

	return report, nil
}

// stalenessBucket maps days-since-verification to a report bucket.
func stalenessBucket(days float64) string {
	switch {
	case days < 1:
		return "0-1d"
	case days < 7:
		return "1-7d"
	case days < 30:
		return "7-30d"
	default:
		return "30d+"
	}
}

// ScheduleIntegrityCheck registers a recurring background verification
// sweep for a table. Non-blocking; the sweep runs until
// StopScheduledChecks. A second schedule for the same table is rejected.
func (m *Manager) ScheduleIntegrityCheck(table, strategyName string, checkIntervalHours float64) error {
	if table == "" {
		return errors.NewMissingArgument("table")
	}
	if checkIntervalHours <= 0 {
		return fmt.Errorf("check interval %g hours: %w", checkIntervalHours, errors.ErrInvalidInterval)
	}
	if _, err := m.strategy(strategyName); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.schedules[table]; exists {
		return fmt.Errorf("integrity check for %s: %w", table, errors.ErrAlreadyRunning)
	}

	stop := make(chan struct{})
	m.schedules[table] = stop

	interval := time.Duration(checkIntervalHours * float64(time.Hour))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				res, err := m.BatchVerify(context.Background(), table, strategyName, scheduledBatchLimit)
				if err != nil {
					m.log.Error("scheduled integrity check failed", "table", table, "error", err)
					continue
				}
				m.log.Info("scheduled integrity check complete",
					"table", table,
					"checked", res.TotalChecked,
					"invalid", res.InvalidRecords)
			}
		}
	}()

	m.log.Info("integrity check scheduled",
		"table", table,
		"strategy", strategyName,
		"interval_hours", checkIntervalHours)

	return nil
}

// StopScheduledChecks stops every scheduled sweep, waiting a bounded time
// for them to observe the stop signal.
func (m *Manager) StopScheduledChecks() {
	m.mu.Lock()
	for table, stop := range m.schedules {
		close(stop)
		delete(m.schedules, table)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		m.log.Warn("scheduled checks did not stop within join timeout")
	}
}

// Stats returns this manager instance's counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
