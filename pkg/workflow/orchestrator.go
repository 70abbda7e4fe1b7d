package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"careflow/pkg/logx"
)

// Stages holds the five pipeline stages the orchestrator drives.
type Stages struct {
	MemoryRetrieval Stage
	Supervisor      Stage
	Information     Stage
	Booking         Stage
	MemoryStorage   Stage
}

// Orchestrator interprets the fixed stage graph:
//
//	MemoryRetrieval -> Supervisor -> {Information | Booking} -> MemoryStorage
//
// It sequences stages, applies routing directives, accumulates the trace,
// and enforces the failure policy: required-stage failures abort the
// pipeline, degraded optional stages continue.
type Orchestrator struct {
	stages  Stages
	sink    EventSink
	timeout time.Duration
	logger  *logx.Logger
}

// NewOrchestrator wires the orchestrator with its stages and collaborators.
// sink may be nil when trace emission is disabled. timeout bounds each
// whole request; zero means no orchestrator-imposed deadline.
func NewOrchestrator(stages Stages, sink EventSink, timeout time.Duration) (*Orchestrator, error) {
	if stages.MemoryRetrieval == nil || stages.Supervisor == nil ||
		stages.Information == nil || stages.Booking == nil || stages.MemoryStorage == nil {
		return nil, fmt.Errorf("all five stages must be provided")
	}
	return &Orchestrator{
		stages:  stages,
		sink:    sink,
		timeout: timeout,
		logger:  logx.NewLogger("orchestrator"),
	}, nil
}

// Run processes one request end to end. On success it returns the terminal
// context with a complete result and a full trace. On a required-stage
// failure it returns the partial trace accumulated so far alongside the
// terminal error. The caller never sees a partial success presented as
// complete.
func (o *Orchestrator) Run(ctx context.Context, rc *Context) (*Context, error) {
	started := time.Now()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	rc, _, err := o.runStage(ctx, o.stages.MemoryRetrieval, rc, true)
	if err != nil {
		return o.finish(rc, started, err)
	}

	rc, directive, err := o.runStage(ctx, o.stages.Supervisor, rc, false)
	if err != nil {
		return o.finish(rc, started, err)
	}

	var handler Stage
	switch directive {
	case DirectiveRouteInformation:
		handler = o.stages.Information
	case DirectiveRouteBooking:
		handler = o.stages.Booking
	default:
		err = &ContractViolation{
			Stage:  o.stages.Supervisor.Name(),
			Detail: fmt.Sprintf("expected a routing directive, got %s", directive),
		}
		return o.finish(rc, started, err)
	}

	rc, _, err = o.runStage(ctx, handler, rc, false)
	if err != nil {
		return o.finish(rc, started, err)
	}

	rc, _, err = o.runStage(ctx, o.stages.MemoryStorage, rc, true)
	if err != nil {
		return o.finish(rc, started, err)
	}

	if !rc.HasResult() {
		err = &ContractViolation{Stage: handler.Name(), Detail: "handler completed without producing a result"}
		return o.finish(rc, started, err)
	}
	return o.finish(rc, started, nil)
}

// runStage executes one stage, times it, and appends its trace record.
// For an optional stage a *DegradedError is absorbed here: the record
// notes the degradation and the pipeline continues.
func (o *Orchestrator) runStage(parent context.Context, stage Stage, rc *Context, optional bool) (*Context, Directive, error) {
	if err := parent.Err(); err != nil {
		return rc, DirectiveTerminate, fmt.Errorf("request aborted before stage %s: %w", stage.Name(), err)
	}

	start := time.Now()
	next, directive, err := stage.Run(parent, rc)
	duration := time.Since(start)

	if err == nil {
		if next == nil {
			next = rc
		}
		return next.withRecord(StageRecord{
			Stage:     stage.Name(),
			StartedAt: start,
			Duration:  duration,
			Outcome:   OutcomeSuccess,
		}), directive, nil
	}

	var degraded *DegradedError
	if optional && errors.As(err, &degraded) {
		if next == nil {
			next = rc
		}
		return next.withRecord(StageRecord{
			Stage:     stage.Name(),
			StartedAt: start,
			Duration:  duration,
			Outcome:   OutcomeDegraded,
			Detail:    degraded.Error(),
		}), DirectiveContinue, nil
	}

	rc = rc.withRecord(StageRecord{
		Stage:     stage.Name(),
		StartedAt: start,
		Duration:  duration,
		Outcome:   OutcomeFailure,
		Detail:    err.Error(),
	})
	return rc, DirectiveTerminate, err
}

// finish emits the terminal trace record and hands the context back.
func (o *Orchestrator) finish(rc *Context, started time.Time, err error) (*Context, error) {
	rec := TraceRecord{
		RequestID: rc.RequestID(),
		TenantID:  rc.TenantID(),
		SessionID: rc.SessionID(),
		SubjectID: rc.SubjectID(),
		Route:     rc.Route(),
		Reasoning: rc.Reasoning(),
		Stages:    rc.Trace(),
		Success:   err == nil,
		StartedAt: started.UTC(),
		Duration:  time.Since(started),
	}
	if err != nil {
		rec.Error = err.Error()
		o.logger.Error("request %s failed after %d stage(s): %v", rc.RequestID(), len(rec.Stages), err)
	} else {
		o.logger.Info("request %s completed via %s in %s", rc.RequestID(), rc.Route(), rec.Duration)
	}

	if o.sink != nil {
		// Trace emission is observability, not control flow. A sink error
		// never changes the request outcome.
		if emitErr := o.sink.EmitTrace(context.Background(), rec); emitErr != nil {
			o.logger.Warn("failed to emit trace for request %s: %v", rc.RequestID(), emitErr)
		}
	}
	return rc, err
}
