package dispatcher

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/outcome"
	"github.com/BaSui01/casegate/session"
	"github.com/BaSui01/casegate/types"
)

const tracerName = "github.com/BaSui01/casegate/dispatcher"

// DefaultPersistTimeout bounds repository calls made by one operation.
const DefaultPersistTimeout = 5 * time.Second

// Metrics receives dispatcher measurements. *metrics.Collector implements it.
type Metrics interface {
	RecordOperation(operation, status string, duration time.Duration)
	RecordRefusal(operation, code string)
	RecordPersistenceFailure(operation string)
	RecordTransition(from, to string)
}

// Dispatcher is the only mutator of session state and the only writer to the repository.
// It is safe for concurrent use across sessions; calls on one session are serialized.
type Dispatcher struct {
	repo           casestore.Repository
	table          *outcome.Table
	script         *compiledScript
	logger         *zap.Logger
	metrics        Metrics
	tracer         trace.Tracer
	persistTimeout time.Duration
	maxAttempts    int
	now            func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) error {
		if logger != nil {
			d.logger = logger
		}
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) error {
		d.metrics = m
		return nil
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) error {
		if t != nil {
			d.tracer = t
		}
		return nil
	}
}

// WithTracerProvider takes the dispatcher tracer from tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) error {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
		return nil
	}
}

// WithOutcomeTable replaces the default outcome table.
func WithOutcomeTable(t *outcome.Table) Option {
	return func(d *Dispatcher) error {
		if t == nil {
			return fmt.Errorf("outcome table is nil")
		}
		d.table = t
		return nil
	}
}

// WithScript replaces the subject-facing wording. Empty fields keep their defaults.
func WithScript(s Script) Option {
	return func(d *Dispatcher) error {
		c, err := compileScript(s)
		if err != nil {
			return err
		}
		d.script = c
		return nil
	}
}

// WithPersistTimeout bounds each repository call.
func WithPersistTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) error {
		if timeout > 0 {
			d.persistTimeout = timeout
		}
		return nil
	}
}

// WithMaxVerificationAttempts locks verification after n mismatches for the loaded task.
// Zero means unlimited.
func WithMaxVerificationAttempts(n int) Option {
	return func(d *Dispatcher) error {
		if n < 0 {
			return fmt.Errorf("max verification attempts must not be negative: %d", n)
		}
		d.maxAttempts = n
		return nil
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) error {
		if now != nil {
			d.now = now
		}
		return nil
	}
}

// New creates a Dispatcher over repo.
func New(repo casestore.Repository, opts ...Option) (*Dispatcher, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	script, err := compileScript(DefaultScript())
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		repo:           repo,
		table:          outcome.DefaultTable(),
		script:         script,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(tracerName),
		persistTimeout: DefaultPersistTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With(zap.String("component", "dispatcher"))
	return d, nil
}

// =============================================================================
// 🎯 Operations
// =============================================================================

// LoadTask looks up the pending record for identity and loads a private copy into
// the session, resetting verification. A miss leaves the session unchanged.
func (d *Dispatcher) LoadTask(ctx context.Context, s *Session, identity string) Result {
	identity = strings.TrimSpace(identity)
	return d.run(ctx, s, OpLoadTask, func(ctx context.Context, st *session.State) Result {
		if identity == "" {
			return refused(types.ErrNotFound, render(d.script.taskNotFound, viewOf(nil, identity)))
		}

		lctx, cancel := context.WithTimeout(ctx, d.persistTimeout)
		defer cancel()

		rec, err := d.repo.FindPendingByIdentity(lctx, identity)
		switch {
		case errors.Is(err, casestore.ErrNotFound):
			return refused(types.ErrNotFound, render(d.script.taskNotFound, viewOf(nil, identity)))
		case err != nil:
			d.logger.Error("task lookup failed", zap.String("session_id", s.id), zap.Error(err))
			if d.metrics != nil {
				d.metrics.RecordPersistenceFailure(string(OpLoadTask))
			}
			res := refused(types.ErrPersistence, render(d.script.lookupFailed, viewOf(nil, identity)))
			res.cause = err
			return res
		}

		if err := st.SetTask(rec, d.now()); err != nil {
			return refused(types.ErrSessionComplete, render(d.script.sessionComplete, viewOf(rec, identity)))
		}
		return ok(render(d.script.taskFound, viewOf(rec, identity))).with("task_id", rec.ID)
	})
}

// GetChallenge returns the loaded record's challenge prompt.
func (d *Dispatcher) GetChallenge(ctx context.Context, s *Session) Result {
	return d.run(ctx, s, OpGetChallenge, func(ctx context.Context, st *session.State) Result {
		if !st.HasTask() {
			return refused(types.ErrNoTaskLoaded, render(d.script.noTaskLoaded, scriptView{}))
		}
		rec := st.Task()
		return ok(render(d.script.challenge, viewOf(rec, ""))).with("challenge", rec.Challenge)
	})
}

// SubmitVerification compares answer with the expected answer, trimmed and
// case-insensitively. A mismatch changes nothing but the failed-attempt count
// and never hints at the expected value.
func (d *Dispatcher) SubmitVerification(ctx context.Context, s *Session, answer string) Result {
	return d.run(ctx, s, OpSubmitVerification, func(ctx context.Context, st *session.State) Result {
		if !st.HasTask() {
			return refused(types.ErrNoTaskLoaded, render(d.script.noTaskLoaded, scriptView{}))
		}
		if st.Verified() {
			return ok(render(d.script.alreadyVerified, scriptView{}))
		}
		if d.maxAttempts > 0 && st.Attempts() >= d.maxAttempts {
			return refused(types.ErrVerificationLocked, render(d.script.verifyLocked, scriptView{}))
		}

		rec := st.Task()
		if answersMatch(answer, rec.ExpectedAnswer) {
			if err := st.MarkVerified(); err != nil {
				return refused(types.ErrSessionComplete, render(d.script.sessionComplete, scriptView{}))
			}
			return ok(render(d.script.verifySuccess, viewOf(rec, "")))
		}

		attempts, _ := st.RecordMismatch()
		d.logger.Info("verification mismatch",
			zap.String("session_id", s.id),
			zap.String("task_id", rec.ID),
			zap.Int("failed_attempts", attempts),
		)
		return refused(types.ErrVerificationMismatch, render(d.script.verifyMismatch, scriptView{}))
	})
}

// RevealSensitiveDetails returns the formatted descriptive fields of a verified task.
// This is the only path to those fields.
func (d *Dispatcher) RevealSensitiveDetails(ctx context.Context, s *Session) Result {
	return d.run(ctx, s, OpRevealSensitiveDetails, func(ctx context.Context, st *session.State) Result {
		if !st.HasTask() || !st.Verified() {
			return refused(types.ErrNotVerified, render(d.script.notVerifiedReveal, scriptView{}))
		}
		return ok(render(d.script.reveal, revealViewOf(st.Task())))
	})
}

// RecordResolution records the subject's decision, persists the mapped status and
// completes the session. A persistence failure yields a degraded result: the
// decision still stands in-session and the subject is still told about it.
func (d *Dispatcher) RecordResolution(ctx context.Context, s *Session, confirmed bool) Result {
	return d.run(ctx, s, OpRecordResolution, func(ctx context.Context, st *session.State) Result {
		if !st.HasTask() || !st.Verified() {
			return refused(types.ErrNotVerified, render(d.script.notVerifiedResolution, scriptView{}))
		}

		resolution := session.ResolutionFromBool(confirmed)
		entry, found := d.table.Lookup(resolution)
		if !found {
			d.logger.Error("no outcome configured", zap.String("resolution", string(resolution)))
			return refused(types.ErrInternalError, "internal error")
		}

		rec := st.Task()
		if err := st.Resolve(resolution); err != nil {
			return refused(types.ErrSessionComplete, render(d.script.sessionComplete, scriptView{}))
		}

		// 决定已生效; 持久化不随调用方取消而中断, 只受超时约束
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.persistTimeout)
		defer cancel()

		if err := d.repo.UpdateStatus(pctx, rec.ID, entry.Status, entry.Note); err != nil {
			d.logger.Error("failed to persist resolution",
				zap.String("session_id", s.id),
				zap.String("task_id", rec.ID),
				zap.String("status", string(entry.Status)),
				zap.Error(err),
			)
			if d.metrics != nil {
				d.metrics.RecordPersistenceFailure(string(OpRecordResolution))
			}
			msg, rerr := d.table.Render(resolution, rec, true)
			if rerr != nil {
				msg = entry.Note
			}
			return degraded(msg, err).
				with("resolution", string(resolution)).
				with("record_status", string(casestore.StatusPending))
		}

		d.logger.Info("resolution recorded",
			zap.String("session_id", s.id),
			zap.String("task_id", rec.ID),
			zap.String("status", string(entry.Status)),
		)
		msg, err := d.table.Render(resolution, rec, false)
		if err != nil {
			msg = entry.Note
		}
		return ok(msg).
			with("resolution", string(resolution)).
			with("record_status", string(entry.Status))
	})
}

// =============================================================================
// 🔒 Serialization and instrumentation
// =============================================================================

type operationFunc func(ctx context.Context, st *session.State) Result

// run holds the session lock for the whole operation, applies the closed and
// complete gates, then records logs, metrics and a span.
func (d *Dispatcher) run(ctx context.Context, s *Session, op Operation, fn operationFunc) Result {
	ctx, span := d.tracer.Start(ctx, "dispatcher."+string(op),
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("dispatcher.operation", string(op)),
		),
	)
	defer span.End()
	ctx = types.WithSessionID(ctx, s.id)
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state.Stage()
	var res Result
	switch {
	case s.closed:
		res = refused(types.ErrSessionNotFound, "session has ended")
	case op.Mutating() && s.state.Complete():
		res = refused(types.ErrSessionComplete, render(d.script.sessionComplete, scriptView{}))
	default:
		res = fn(ctx, &s.state)
	}
	res.Operation = op
	res.Stage = s.state.Stage()
	s.touch(d.now())

	span.SetAttributes(
		attribute.String("dispatcher.status", string(res.Status)),
		attribute.String("session.stage", string(res.Stage)),
	)
	if res.Code != "" {
		span.SetAttributes(attribute.String("dispatcher.code", string(res.Code)))
	}
	if res.Degraded() || res.Code == types.ErrPersistence {
		span.SetStatus(codes.Error, string(res.Code))
		if res.cause != nil {
			span.RecordError(res.cause)
		}
	}

	if res.Refused() {
		d.logger.Debug("operation refused",
			zap.String("session_id", s.id),
			zap.String("operation", string(op)),
			zap.String("code", string(res.Code)),
		)
	}
	if from != res.Stage {
		d.logger.Debug("session stage changed",
			zap.String("session_id", s.id),
			zap.String("from", string(from)),
			zap.String("to", string(res.Stage)),
		)
	}

	if d.metrics != nil {
		d.metrics.RecordOperation(string(op), string(res.Status), time.Since(start))
		if res.Refused() {
			d.metrics.RecordRefusal(string(op), string(res.Code))
		}
		if from != res.Stage {
			d.metrics.RecordTransition(string(from), string(res.Stage))
		}
	}
	return res
}

// answersMatch compares trimmed, lower-cased answers in constant time.
// An empty expected answer never matches.
func answersMatch(given, expected string) bool {
	e := strings.ToLower(strings.TrimSpace(expected))
	if e == "" {
		return false
	}
	g := strings.ToLower(strings.TrimSpace(given))
	return subtle.ConstantTimeCompare([]byte(g), []byte(e)) == 1
}
