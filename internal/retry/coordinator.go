package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/sportswire/internal/metrics"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending           Status = "pending"
	StatusAttempting        Status = "attempting"
	StatusSucceeded         Status = "succeeded"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// DefaultDelays is the backoff schedule; the last entry repeats.
var DefaultDelays = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}

const (
	DefaultMaxRetries       = 3
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
	maxResolvedRecords      = 1000
)

// Task is a deferred attempt of an operation. AttemptCount counts every
// attempt including the first.
type Task struct {
	ID            string    `json:"id"`
	Op            Operation `json:"-"`
	AttemptCount  int       `json:"attempt_count"`
	MaxAttempts   int       `json:"max_attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	LastError     string    `json:"last_error,omitempty"`
	Status        Status    `json:"status"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	type alias Task
	payload, err := json.Marshal(t.Op)
	if err != nil {
		return nil, err
	}
	var kind OpKind
	if t.Op != nil {
		kind = t.Op.Kind()
	}
	return json.Marshal(struct {
		alias
		Kind    OpKind          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}{alias(t), kind, payload})
}

func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	aux := struct {
		*alias
		Kind    OpKind          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	op, err := decodeOp(aux.Kind, aux.Payload)
	if err != nil {
		return err
	}
	t.Op = op
	return nil
}

// ErrorRecord is the audit entry for one failed attempt.
type ErrorRecord struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Message    string     `json:"message"`
	Operation  OpKind     `json:"operation"`
	Attempt    int        `json:"attempt"`
	Severity   Severity   `json:"severity"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Result reports what happened to an operation.
type Result struct {
	TaskID   string
	Status   Status
	Attempts int
	Err      error
}

func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }
func (r Result) Scheduled() bool { return r.Status == StatusPending }

// Performer carries out operations.
type Performer interface {
	Perform(ctx context.Context, op Operation) error
}

// PerformerFunc adapts a function to Performer.
type PerformerFunc func(ctx context.Context, op Operation) error

func (f PerformerFunc) Perform(ctx context.Context, op Operation) error { return f(ctx, op) }

// FailureHandler is implemented by performers that settle an operation
// themselves once it will not be attempted again. It runs after escalation,
// whether the last attempt was the first or a queued retry.
type FailureHandler interface {
	PermanentFailure(ctx context.Context, op Operation, err error)
}

// Escalation describes a task that will not be attempted again.
type Escalation struct {
	Task   Task
	Record ErrorRecord
}

// Escalator is told about permanent failures.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}

// Journal persists the retry queue and error log.
type Journal interface {
	LoadTasks(ctx context.Context) ([]Task, error)
	SaveTasks(ctx context.Context, tasks []Task) error
	LoadErrors(ctx context.Context) ([]ErrorRecord, error)
	SaveErrors(ctx context.Context, records []ErrorRecord) error
}

// Config tunes the coordinator.
type Config struct {
	MaxRetries       int
	Delays           []time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if len(c.Delays) == 0 {
		c.Delays = DefaultDelays
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = DefaultBreakerCooldown
	}
	return c
}

// DefaultConfig returns the production schedule: three retries after 1s, 5s
// and 15s, with a per-kind breaker.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       DefaultMaxRetries,
		Delays:           DefaultDelays,
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerCooldown:  DefaultBreakerCooldown,
	}
}

// Options wires the coordinator's collaborators. Performer is required.
type Options struct {
	Performer Performer
	Classify  func(error) Class
	Escalator Escalator
	Journal   Journal
	// Paused defers queued retries while it reports true.
	Paused func() bool
	Now    func() time.Time
	Logger *slog.Logger
}

// Coordinator runs operations, records failures and schedules retries.
type Coordinator struct {
	cfg       Config
	performer Performer
	classify  func(error) Class
	escalator Escalator
	journal   Journal
	paused    func() bool
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	tasks     map[string]*Task
	records   []ErrorRecord
	breakers  map[OpKind]*breaker
	permanent int
}

func NewCoordinator(cfg Config, opts Options) *Coordinator {
	c := &Coordinator{
		cfg:       cfg.withDefaults(),
		performer: opts.Performer,
		classify:  opts.Classify,
		escalator: opts.Escalator,
		journal:   opts.Journal,
		paused:    opts.Paused,
		now:       opts.Now,
		logger:    opts.Logger,
		tasks:     make(map[string]*Task),
		breakers:  make(map[OpKind]*breaker),
	}
	if c.classify == nil {
		c.classify = Classify
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// SetPerformer replaces the performer. It must be called before any work
// is submitted.
func (c *Coordinator) SetPerformer(p Performer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.performer = p
}

// Load restores the persisted queue and error log. It must run before any
// new work is accepted so pending retries are not lost.
func (c *Coordinator) Load(ctx context.Context) error {
	if c.journal == nil {
		return nil
	}

	tasks, err := c.journal.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load retry queue: %w", err)
	}
	records, err := c.journal.LoadErrors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load error log: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range tasks {
		t := tasks[i]
		if t.Op == nil {
			continue
		}
		if t.Status == StatusAttempting {
			// interrupted mid-attempt
			t.Status = StatusPending
		}
		if t.Status != StatusPending {
			continue
		}
		c.tasks[t.ID] = &t
	}
	c.records = append(records, c.records...)

	c.logger.Info("retry state loaded", "pending", len(c.tasks), "error_records", len(c.records))
	metrics.SetPendingRetries(len(c.tasks))
	return nil
}

// Execute runs the first attempt of op now. A retryable failure queues the
// operation for a later attempt and returns without waiting for it.
func (c *Coordinator) Execute(ctx context.Context, op Operation) Result {
	now := c.now()
	task := &Task{
		ID:          uuid.NewString(),
		Op:          op,
		MaxAttempts: c.cfg.MaxRetries + 1,
		CreatedAt:   now,
		Status:      StatusAttempting,
	}
	return c.attempt(ctx, task)
}

// ProcessDue attempts every queued task whose time has come and returns how
// many were attempted. Nothing runs while the pause gate is closed.
func (c *Coordinator) ProcessDue(ctx context.Context) int {
	if c.paused != nil && c.paused() {
		return 0
	}

	now := c.now()
	c.mu.Lock()
	var due []*Task
	for _, t := range c.tasks {
		if t.Status == StatusPending && !t.NextAttemptAt.After(now) {
			t.Status = StatusAttempting
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})

	for _, t := range due {
		if ctx.Err() != nil {
			c.mu.Lock()
			t.Status = StatusPending
			c.mu.Unlock()
			continue
		}
		c.attempt(ctx, t)
	}
	return len(due)
}

func (c *Coordinator) breakerFor(kind OpKind) *breaker {
	b, ok := c.breakers[kind]
	if !ok {
		b = newBreaker(c.cfg.BreakerThreshold, c.cfg.BreakerCooldown)
		c.breakers[kind] = b
	}
	return b
}

// attempt performs one try of t. t.Status is attempting on entry.
func (c *Coordinator) attempt(ctx context.Context, t *Task) Result {
	kind := t.Op.Kind()

	c.mu.Lock()
	performer := c.performer
	if ok, retryAt := c.breakerFor(kind).allow(c.now()); !ok {
		t.Status = StatusPending
		t.NextAttemptAt = retryAt
		c.tasks[t.ID] = t
		c.persistTasksLocked(ctx)
		res := Result{TaskID: t.ID, Status: StatusPending, Attempts: t.AttemptCount, Err: ErrCircuitOpen}
		c.mu.Unlock()

		c.logger.Warn("circuit open, deferring operation", "operation", kind, "task_id", t.ID, "retry_at", retryAt)
		metrics.RecordAttempt(string(kind), "deferred")
		return res
	}
	t.AttemptCount++
	attemptNo := t.AttemptCount
	op := t.Op
	c.mu.Unlock()

	var err error
	if performer == nil {
		err = Permanent(fmt.Errorf("no performer configured"))
	} else {
		err = performer.Perform(ctx, op)
	}
	now := c.now()

	if err == nil {
		c.mu.Lock()
		c.breakerFor(kind).success()
		t.Status = StatusSucceeded
		t.LastError = ""
		_, wasQueued := c.tasks[t.ID]
		delete(c.tasks, t.ID)
		resolved := c.resolveLocked(t.ID, now)
		if wasQueued {
			c.persistTasksLocked(ctx)
		}
		if resolved > 0 {
			c.persistErrorsLocked(ctx)
		}
		pending := len(c.tasks)
		c.mu.Unlock()

		if attemptNo > 1 {
			c.logger.Info("operation recovered", "operation", kind, "task_id", t.ID, "attempts", attemptNo)
		}
		metrics.RecordAttempt(string(kind), string(StatusSucceeded))
		metrics.SetPendingRetries(pending)
		return Result{TaskID: t.ID, Status: StatusSucceeded, Attempts: attemptNo}
	}

	class := c.classify(err)
	record := ErrorRecord{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		Timestamp: now,
		Message:   err.Error(),
		Operation: kind,
		Attempt:   attemptNo,
		Severity:  SeverityFor(op, err),
	}

	c.mu.Lock()
	if class == Retryable {
		c.breakerFor(kind).failure(now)
	} else {
		c.breakerFor(kind).success()
	}
	c.records = append(c.records, record)
	t.LastError = err.Error()

	if class == Retryable && attemptNo < t.MaxAttempts {
		delay := c.delayFor(attemptNo)
		t.Status = StatusPending
		t.NextAttemptAt = now.Add(delay)
		c.tasks[t.ID] = t
		c.persistErrorsLocked(ctx)
		c.persistTasksLocked(ctx)
		pending := len(c.tasks)
		c.mu.Unlock()

		c.logger.Warn("operation failed, retry scheduled",
			"operation", kind,
			"task_id", t.ID,
			"attempt", attemptNo,
			"max_attempts", t.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		metrics.RecordAttempt(string(kind), "scheduled")
		metrics.SetPendingRetries(pending)
		return Result{TaskID: t.ID, Status: StatusPending, Attempts: attemptNo, Err: err}
	}

	t.Status = StatusPermanentlyFailed
	_, wasQueued := c.tasks[t.ID]
	delete(c.tasks, t.ID)
	c.permanent++
	c.persistErrorsLocked(ctx)
	if wasQueued {
		c.persistTasksLocked(ctx)
	}
	snapshot := *t
	pending := len(c.tasks)
	c.mu.Unlock()

	c.logger.Error("operation permanently failed",
		"operation", kind,
		"task_id", t.ID,
		"attempts", attemptNo,
		"class", class.String(),
		"severity", record.Severity,
		"error", err,
	)
	metrics.RecordAttempt(string(kind), string(StatusPermanentlyFailed))
	metrics.SetPendingRetries(pending)

	if c.escalator != nil {
		if escErr := c.escalator.Escalate(ctx, Escalation{Task: snapshot, Record: record}); escErr != nil {
			c.logger.Error("failed to escalate permanent failure", "task_id", t.ID, "error", escErr)
		}
	}
	if fh, ok := performer.(FailureHandler); ok {
		fh.PermanentFailure(ctx, op, err)
	}
	return Result{TaskID: t.ID, Status: StatusPermanentlyFailed, Attempts: attemptNo, Err: err}
}

// delayFor returns the wait after the given attempt number.
func (c *Coordinator) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(c.cfg.Delays) {
		idx = len(c.cfg.Delays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return c.cfg.Delays[idx]
}

func (c *Coordinator) resolveLocked(taskID string, now time.Time) int {
	n := 0
	for i := range c.records {
		r := &c.records[i]
		if r.TaskID == taskID && !r.Resolved {
			r.Resolved = true
			at := now
			r.ResolvedAt = &at
			n++
		}
	}
	c.trimLocked()
	return n
}

// trimLocked drops the oldest resolved records beyond the retention cap.
// Unresolved records are always kept.
func (c *Coordinator) trimLocked() {
	resolved := 0
	for _, r := range c.records {
		if r.Resolved {
			resolved++
		}
	}
	excess := resolved - maxResolvedRecords
	if excess <= 0 {
		return
	}
	kept := c.records[:0]
	for _, r := range c.records {
		if r.Resolved && excess > 0 {
			excess--
			continue
		}
		kept = append(kept, r)
	}
	c.records = kept
}

func (c *Coordinator) persistTasksLocked(ctx context.Context) {
	if c.journal == nil {
		return
	}
	tasks := make([]Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		tasks = append(tasks, *t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	if err := c.journal.SaveTasks(ctx, tasks); err != nil {
		c.logger.Error("failed to persist retry queue", "error", err)
	}
}

func (c *Coordinator) persistErrorsLocked(ctx context.Context) {
	if c.journal == nil {
		return
	}
	records := make([]ErrorRecord, len(c.records))
	copy(records, c.records)
	if err := c.journal.SaveErrors(ctx, records); err != nil {
		c.logger.Error("failed to persist error log", "error", err)
	}
}

// Stats summarizes the error log and queue.
type Stats struct {
	Total             int               `json:"total"`
	Resolved          int               `json:"resolved"`
	Unresolved        int               `json:"unresolved"`
	PendingRetries    int               `json:"pending_retries"`
	PermanentFailures int               `json:"permanent_failures"`
	BySeverity        map[Severity]int  `json:"by_severity"`
	Breakers          map[OpKind]string `json:"breakers"`
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Total:             len(c.records),
		PendingRetries:    len(c.tasks),
		PermanentFailures: c.permanent,
		BySeverity: map[Severity]int{
			SeverityCritical: 0,
			SeverityHigh:     0,
			SeverityMedium:   0,
			SeverityLow:      0,
		},
		Breakers: make(map[OpKind]string, len(c.breakers)),
	}
	for _, r := range c.records {
		if r.Resolved {
			s.Resolved++
			continue
		}
		s.Unresolved++
		s.BySeverity[r.Severity]++
	}
	for kind, b := range c.breakers {
		s.Breakers[kind] = b.String()
	}
	return s
}

// Unresolved returns unresolved records for one operation kind, or for all
// kinds when kind is empty.
func (c *Coordinator) Unresolved(kind OpKind) []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ErrorRecord
	for _, r := range c.records {
		if r.Resolved {
			continue
		}
		if kind == "" || r.Operation == kind {
			out = append(out, r)
		}
	}
	return out
}

// Errors returns a copy of the error log.
func (c *Coordinator) Errors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ErrorRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Tasks returns the queued tasks ordered by next attempt.
func (c *Coordinator) Tasks() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return out
}

// ClearResolved drops resolved records from the error log.
func (c *Coordinator) ClearResolved(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.records[:0]
	removed := 0
	for _, r := range c.records {
		if r.Resolved {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	c.records = kept
	if removed > 0 {
		c.persistErrorsLocked(ctx)
	}
	return removed
}
