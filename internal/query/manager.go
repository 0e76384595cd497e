package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/omop/dashboard/internal/platform/analytics"
	"github.com/omop/dashboard/internal/platform/cache"
)

const (
	DefaultCacheTTL = 10 * time.Minute
	DefaultTimeout  = 30 * time.Second
)

// Recorder receives one metric per Run.
type Recorder interface {
	Record(metric analytics.QueryMetric)
}

type nopRecorder struct{}

func (nopRecorder) Record(analytics.QueryMetric) {}

// Manager runs catalog operations against a Store. Successful results are
// memoized per operation ID until they expire or are invalidated; failures
// are never cached. Safe for concurrent use, and concurrent misses for the
// same operation share a single execution.
type Manager struct {
	store    Store
	catalog  *Catalog
	results  *cache.Store[Result]
	group    singleflight.Group
	ttl      time.Duration

	// gen and opGen advance on Invalidate and InvalidateOp. An execution
	// only stores its result if neither moved while it ran.
	genMu sync.Mutex
	gen   uint64
	opGen map[string]uint64

	timeout  time.Duration
	logger   zerolog.Logger
	recorder Recorder
	now      func() time.Time
}

type Option func(*Manager)

// WithCacheTTL sets how long results are kept. Zero keeps them until
// Invalidate is called.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithTimeout bounds each store execution.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

func WithCatalog(c *Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

func NewManager(store Store, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		catalog:  DefaultCatalog(),
		results:  cache.New[Result](),
		opGen:    make(map[string]uint64),
		ttl:      DefaultCacheTTL,
		timeout:  DefaultTimeout,
		logger:   logger,
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Catalog returns the operations this manager can run.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// StartCacheCleanup evicts expired results in the background until ctx ends.
func (m *Manager) StartCacheCleanup(ctx context.Context, interval time.Duration) {
	m.results.StartCleanup(ctx, interval)
}

// Run executes the operation with the given ID, or serves it from cache.
// The returned error is non-nil only for an unknown ID; query failures are
// reported through Outcome.Err after being logged once.
func (m *Manager) Run(ctx context.Context, id string) (Outcome, error) {
	op, ok := m.catalog.Find(id)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownOperation, id)
	}

	if res, ok := m.results.Get(id); ok {
		m.recorder.Record(analytics.QueryMetric{
			Timestamp: m.now(),
			Operation: id,
			Rows:      res.Len(),
			Cached:    true,
		})
		return Outcome{Operation: id, Result: res, Cached: true}, nil
	}

	v, _, _ := m.group.Do(id, func() (interface{}, error) {
		return m.execute(ctx, op), nil
	})
	return v.(Outcome), nil
}

func (m *Manager) execute(ctx context.Context, op *Operation) Outcome {
	gen := m.generation(op.ID)
	start := m.now()
	res, err := m.query(ctx, op)
	elapsed := m.now().Sub(start)

	m.recorder.Record(analytics.QueryMetric{
		Timestamp: start,
		Operation: op.ID,
		Duration:  elapsed,
		Rows:      res.Len(),
		Failed:    err != nil,
	})

	if err != nil {
		m.logger.Error().
			Err(err).
			Str("op", op.ID).
			Dur("duration", elapsed).
			Msg("query failed")
		return Outcome{
			Operation: op.ID,
			Result:    Result{Columns: op.Columns, Rows: []Row{}},
			Err:       err,
			Duration:  elapsed,
		}
	}

	if !m.cacheIfCurrent(op.ID, gen, res) {
		m.logger.Debug().Str("op", op.ID).Msg("result invalidated while running, not cached")
	}
	m.logger.Debug().
		Str("op", op.ID).
		Int("rows", res.Len()).
		Dur("duration", elapsed).
		Msg("query executed")
	return Outcome{Operation: op.ID, Result: res, Duration: elapsed}
}

type genSnapshot struct{ all, op uint64 }

func (m *Manager) generation(id string) genSnapshot {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	return genSnapshot{all: m.gen, op: m.opGen[id]}
}

// cacheIfCurrent caches res unless id was invalidated after gen was read.
func (m *Manager) cacheIfCurrent(id string, gen genSnapshot, res Result) bool {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	if m.gen != gen.all || m.opGen[id] != gen.op {
		return false
	}
	m.results.Set(id, res, m.ttl)
	return true
}

func (m *Manager) query(ctx context.Context, op *Operation) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rows, columns, err := m.store.Query(ctx, op.SQL)
	if err != nil {
		return Result{}, fmt.Errorf("execute %s: %w", op.ID, err)
	}
	if err := checkColumns(op.SourceColumns(), columns); err != nil {
		return Result{}, fmt.Errorf("execute %s: %w", op.ID, err)
	}
	if op.Post != nil {
		if rows, err = op.Post(rows); err != nil {
			return Result{}, fmt.Errorf("reshape %s: %w", op.ID, err)
		}
	}
	if rows == nil {
		rows = []Row{}
	}
	return Result{Columns: op.Columns, Rows: rows}, nil
}

func checkColumns(want, got []string) error {
	have := make(map[string]bool, len(got))
	for _, c := range got {
		have[c] = true
	}
	for _, c := range want {
		if !have[c] {
			return fmt.Errorf("%w: %s", ErrSchemaDrift, c)
		}
	}
	return nil
}

// Result runs the operation and collapses any failure into an empty result.
func (m *Manager) Result(ctx context.Context, id string) Result {
	out, err := m.Run(ctx, id)
	if err != nil {
		m.logger.Error().Err(err).Str("op", id).Msg("query lookup failed")
		return Result{Rows: []Row{}}
	}
	return out.Rows()
}

// Invalidate drops every memoized result. Executions already in flight
// still answer their callers but are not cached, and later calls start a
// fresh execution instead of joining them.
func (m *Manager) Invalidate() {
	m.genMu.Lock()
	m.gen++
	m.results.Clear()
	m.genMu.Unlock()

	for _, op := range m.catalog.Operations() {
		m.group.Forget(op.ID)
	}
}

// InvalidateOp drops the memoized result of one operation.
func (m *Manager) InvalidateOp(id string) {
	m.genMu.Lock()
	m.opGen[id]++
	m.results.Delete(id)
	m.genMu.Unlock()

	m.group.Forget(id)
}

func (m *Manager) PatientCount(ctx context.Context) Result {
	return m.Result(ctx, OpPatientCount)
}

func (m *Manager) SexDistribution(ctx context.Context) Result {
	return m.Result(ctx, OpSexDistribution)
}

func (m *Manager) RaceDistribution(ctx context.Context) Result {
	return m.Result(ctx, OpRaceDistribution)
}

func (m *Manager) EthnicityDistribution(ctx context.Context) Result {
	return m.Result(ctx, OpEthnicityDistribution)
}

func (m *Manager) AgeAtFirstObservation(ctx context.Context) Result {
	return m.Result(ctx, OpAgeAtFirstObservation)
}

func (m *Manager) YearOfBirth(ctx context.Context) Result {
	return m.Result(ctx, OpYearOfBirth)
}

func (m *Manager) TopConditions(ctx context.Context) Result {
	return m.Result(ctx, OpTopConditions)
}

func (m *Manager) MonthlyRecordDensity(ctx context.Context) Result {
	return m.Result(ctx, OpMonthlyRecordDensity)
}

func (m *Manager) MonthlyRecordsPerPerson(ctx context.Context) Result {
	return m.Result(ctx, OpMonthlyRecordsPerPerson)
}

func (m *Manager) ConceptsPerPerson(ctx context.Context) Result {
	return m.Result(ctx, OpConceptsPerPerson)
}
