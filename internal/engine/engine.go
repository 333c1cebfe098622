package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scopeshift/internal/domain"
	"scopeshift/internal/fingerprint"
	"scopeshift/internal/projection"
	"scopeshift/internal/stage"
)

var (
	ErrEmptyScenario = errors.New("scenario is empty")
	ErrNoScope       = errors.New("no scope document: generate scope first")
	ErrScopeRunning  = errors.New("scope generation in progress")
	ErrBusy          = errors.New("another downstream stage is running")
	ErrStale         = errors.New("scope document was replaced while the stage ran; result discarded")
	ErrSuperseded    = errors.New("superseded by a newer scope generation; result discarded")
	ErrNoFeatures    = stage.ErrNoFeatures
)

// Pipeline runs the four stage contracts. *stage.Runner implements it.
type Pipeline interface {
	GenerateScope(ctx context.Context, scenario string) (domain.ScopeDocument, []domain.Warning, error)
	ProposeFeatures(ctx context.Context, seeds []domain.FeatureRef, c domain.Constraints) ([]domain.ProposedFeature, []domain.Warning, error)
	AnalyzeScope(ctx context.Context, p domain.ScopeProjection) (domain.ScopeAnalysis, []domain.Warning, error)
	GenerateTestPlan(ctx context.Context, p domain.ScopeProjection) (domain.TestPlan, []domain.Warning, error)
}

// Recorder receives run lifecycle records. Failures are logged and never
// affect the run.
type Recorder interface {
	RunStarted(ctx context.Context, run domain.Run) error
	RunFinished(ctx context.Context, run domain.Run) error
}

// Engine owns the scope document and the four stage slots. It is safe for
// concurrent use; the lock is never held across an oracle call.
type Engine struct {
	Pipeline    Pipeline
	Constraints domain.Constraints
	Recorder    Recorder
	Log         *zap.Logger
	Now         func() time.Time
	NewID       func() string

	mu       sync.Mutex
	doc      *domain.ScopeDocument
	version  string
	epoch    uint64
	scopeSeq uint64
	busy     domain.Stage
	scope    Slot[domain.ScopeDocument]
	proposal Slot[domain.ProposalSet]
	analysis Slot[domain.ScopeAnalysis]
	testPlan Slot[domain.TestPlan]
}

func New(p Pipeline, c domain.Constraints, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Pipeline:    p,
		Constraints: c,
		Log:         log,
		Now:         time.Now,
		NewID:       uuid.NewString,
	}
}

func (e *Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

type requesterKey struct{}

// WithRequester tags ctx with the subject on whose behalf stages run. The
// subject is recorded on every run started with ctx.
func WithRequester(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, requesterKey{}, subject)
}

func requesterFrom(ctx context.Context) string {
	s, _ := ctx.Value(requesterKey{}).(string)
	return s
}

// GenerateScope runs scope generation. A blank scenario is rejected before
// any state changes. On success the document is replaced and every
// downstream slot returns to idle; on failure the previous document and
// downstream results are left as they were.
func (e *Engine) GenerateScope(ctx context.Context, scenario string) (domain.ScopeDocument, error) {
	doc, _, err := e.RunScope(ctx, scenario)
	return doc, err
}

// RunScope is GenerateScope returning the finished run record, which
// carries the run's own warnings and document version.
func (e *Engine) RunScope(ctx context.Context, scenario string) (domain.ScopeDocument, domain.Run, error) {
	if strings.TrimSpace(scenario) == "" {
		return domain.ScopeDocument{}, domain.Run{}, ErrEmptyScenario
	}

	e.mu.Lock()
	e.scopeSeq++
	token := e.scopeSeq
	run := e.startRun(ctx, domain.StageScope, e.version)
	e.scope = Slot[domain.ScopeDocument]{State: SlotRunning, RunID: run.ID, StartedAt: run.StartedAt}
	e.mu.Unlock()
	e.recordStart(ctx, run)

	doc, warnings, err := e.Pipeline.GenerateScope(ctx, scenario)
	var version string
	if err == nil {
		if version, err = fingerprint.Version(doc); err != nil {
			err = domain.StageFailure(domain.StageScope, err)
		}
	}

	e.mu.Lock()
	finished := e.now()
	run.FinishedAt = &finished
	run.Warnings = warnings
	if token != e.scopeSeq {
		e.mu.Unlock()
		run.Status = domain.RunDiscarded
		run.Error = ErrSuperseded.Error()
		e.recordFinish(ctx, run)
		return domain.ScopeDocument{}, run, ErrSuperseded
	}
	if err != nil {
		e.scope.fail(err, warnings, finished)
		e.mu.Unlock()
		run.Status = domain.RunFailed
		run.Error = err.Error()
		e.recordFinish(ctx, run)
		return domain.ScopeDocument{}, run, err
	}
	committed := doc.Clone()
	e.doc = &committed
	e.version = version
	e.epoch++
	e.busy = ""
	e.proposal = Slot[domain.ProposalSet]{}
	e.analysis = Slot[domain.ScopeAnalysis]{}
	e.testPlan = Slot[domain.TestPlan]{}
	e.scope.ScopeVersion = version
	e.scope.succeed(doc.Clone(), warnings, finished)
	e.mu.Unlock()

	run.Status = domain.RunSucceeded
	run.ScopeVersion = version
	e.recordFinish(ctx, run)
	return doc, run, nil
}

// ProposeFeatures seeds feature proposal from the committed document's
// feature titles. An empty feature list is rejected without an oracle call.
func (e *Engine) ProposeFeatures(ctx context.Context) ([]domain.ProposedFeature, error) {
	out, _, err := e.RunProposal(ctx)
	return out, err
}

func (e *Engine) RunProposal(ctx context.Context) ([]domain.ProposedFeature, domain.Run, error) {
	out, run, err := runDownstream(ctx, e, domain.StageProposal, func(e *Engine) *Slot[domain.ProposalSet] { return &e.proposal },
		func(ctx context.Context, doc domain.ScopeDocument) (domain.ProposalSet, []domain.Warning, error) {
			candidates, warnings, err := e.Pipeline.ProposeFeatures(ctx, projection.Seeds(doc), e.Constraints)
			return domain.ProposalSet{Candidates: candidates}, warnings, err
		})
	if err != nil {
		return nil, run, err
	}
	return out.Candidates, run, nil
}

// AnalyzeScope runs scope health analysis on a fresh projection.
func (e *Engine) AnalyzeScope(ctx context.Context) (domain.ScopeAnalysis, error) {
	out, _, err := e.RunAnalysis(ctx)
	return out, err
}

func (e *Engine) RunAnalysis(ctx context.Context) (domain.ScopeAnalysis, domain.Run, error) {
	return runDownstream(ctx, e, domain.StageAnalysis, func(e *Engine) *Slot[domain.ScopeAnalysis] { return &e.analysis },
		func(ctx context.Context, doc domain.ScopeDocument) (domain.ScopeAnalysis, []domain.Warning, error) {
			return e.Pipeline.AnalyzeScope(ctx, projection.Build(doc, e.Constraints))
		})
}

// GenerateTestPlan runs test-plan generation on a fresh projection.
func (e *Engine) GenerateTestPlan(ctx context.Context) (domain.TestPlan, error) {
	out, _, err := e.RunTestPlan(ctx)
	return out, err
}

func (e *Engine) RunTestPlan(ctx context.Context) (domain.TestPlan, domain.Run, error) {
	return runDownstream(ctx, e, domain.StageTestPlan, func(e *Engine) *Slot[domain.TestPlan] { return &e.testPlan },
		func(ctx context.Context, doc domain.ScopeDocument) (domain.TestPlan, []domain.Warning, error) {
			return e.Pipeline.GenerateTestPlan(ctx, projection.Build(doc, e.Constraints))
		})
}

func runDownstream[T any](
	ctx context.Context,
	e *Engine,
	st domain.Stage,
	slotOf func(*Engine) *Slot[T],
	call func(context.Context, domain.ScopeDocument) (T, []domain.Warning, error),
) (T, domain.Run, error) {
	var zero T
	e.mu.Lock()
	if err := e.eligibleLocked(st); err != nil {
		e.mu.Unlock()
		return zero, domain.Run{}, err
	}
	if st == domain.StageProposal && len(e.doc.Features) == 0 {
		e.mu.Unlock()
		return zero, domain.Run{}, ErrNoFeatures
	}
	epoch := e.epoch
	version := e.version
	doc := e.doc.Clone()
	e.busy = st
	run := e.startRun(ctx, st, version)
	*slotOf(e) = Slot[T]{State: SlotRunning, RunID: run.ID, StartedAt: run.StartedAt, ScopeVersion: version}
	e.mu.Unlock()
	e.recordStart(ctx, run)

	out, warnings, err := call(ctx, doc)
	if err != nil {
		err = domain.StageFailure(st, err)
	}

	e.mu.Lock()
	finished := e.now()
	run.FinishedAt = &finished
	run.Warnings = warnings
	if epoch != e.epoch {
		e.mu.Unlock()
		run.Status = domain.RunDiscarded
		run.Error = ErrStale.Error()
		e.recordFinish(ctx, run)
		return zero, run, ErrStale
	}
	e.busy = ""
	slot := slotOf(e)
	if err != nil {
		slot.fail(err, warnings, finished)
		e.mu.Unlock()
		run.Status = domain.RunFailed
		run.Error = err.Error()
		e.recordFinish(ctx, run)
		return zero, run, err
	}
	slot.succeed(out, warnings, finished)
	e.mu.Unlock()
	run.Status = domain.RunSucceeded
	e.recordFinish(ctx, run)
	return out, run, nil
}

// Eligible reports whether a stage may be started now; nil means yes.
func (e *Engine) Eligible(st domain.Stage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eligibleLocked(st)
}

func (e *Engine) eligibleLocked(st domain.Stage) error {
	switch st {
	case domain.StageScope:
		return nil
	case domain.StageProposal, domain.StageAnalysis, domain.StageTestPlan:
	default:
		return fmt.Errorf("unknown stage %q", st)
	}
	if e.scope.State == SlotRunning {
		return ErrScopeRunning
	}
	if e.doc == nil {
		return ErrNoScope
	}
	if e.busy != "" {
		return fmt.Errorf("%w: %s", ErrBusy, e.busy)
	}
	return nil
}

// Document returns a copy of the committed document and its version.
func (e *Engine) Document() (domain.ScopeDocument, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == nil {
		return domain.ScopeDocument{}, "", false
	}
	return e.doc.Clone(), e.version, true
}

// Projection builds the analysis / test-plan input for the committed
// document.
func (e *Engine) Projection() (domain.ScopeProjection, error) {
	doc, _, ok := e.Document()
	if !ok {
		return domain.ScopeProjection{}, ErrNoScope
	}
	return projection.Build(doc, e.Constraints), nil
}

func (e *Engine) startRun(ctx context.Context, st domain.Stage, version string) domain.Run {
	return domain.Run{
		ID:           e.newID(),
		Stage:        st,
		Status:       domain.RunRunning,
		ScopeVersion: version,
		RequestedBy:  requesterFrom(ctx),
		StartedAt:    e.now(),
	}
}

func (e *Engine) recordStart(ctx context.Context, run domain.Run) {
	e.logger().Info("stage started", zap.String("stage", string(run.Stage)), zap.String("run_id", run.ID))
	if e.Recorder == nil {
		return
	}
	if err := e.Recorder.RunStarted(ctx, run); err != nil {
		e.logger().Warn("record run start", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (e *Engine) recordFinish(ctx context.Context, run domain.Run) {
	fields := []zap.Field{
		zap.String("stage", string(run.Stage)),
		zap.String("run_id", run.ID),
		zap.String("status", run.Status),
		zap.Int("warnings", len(run.Warnings)),
	}
	if run.Status == domain.RunSucceeded {
		e.logger().Info("stage finished", fields...)
	} else {
		e.logger().Warn("stage finished", append(fields, zap.String("error", run.Error))...)
	}
	if e.Recorder == nil {
		return
	}
	if err := e.Recorder.RunFinished(context.WithoutCancel(ctx), run); err != nil {
		e.logger().Warn("record run finish", zap.String("run_id", run.ID), zap.Error(err))
	}
}
