package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsehq/pulse/internal/action"
	"github.com/pulsehq/pulse/internal/evctx"
	"github.com/pulsehq/pulse/internal/outbox"
	"github.com/pulsehq/pulse/internal/rule"
	"github.com/pulsehq/pulse/internal/run"
	"github.com/pulsehq/pulse/internal/variable"
)

// Pipeline consumes automation.event jobs: it matches the event against
// the tenant's rules, evaluates their conditions, and executes matched
// rules' actions, recording a run per (rule, event) pair.
type Pipeline struct {
	events *outbox.Store
	rules  *rule.Store
	runs   *run.Store
	runner *action.Runner
	timers *Timers
	logger *slog.Logger
	now    func() time.Time
}

// NewPipeline wires the automation pipeline.
func NewPipeline(events *outbox.Store, rules *rule.Store, runs *run.Store, runner *action.Runner, timers *Timers, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		events: events,
		rules:  rules,
		runs:   runs,
		runner: runner,
		timers: timers,
		logger: logger,
		now:    time.Now,
	}
}

// Attach registers the pipeline's handler on the engine.
func (p *Pipeline) Attach(e *Engine) {
	e.Register(outbox.JobAutomationEvent, p.HandleEvent)
}

// HandleEvent processes one published event. Rules are loaded fresh at
// delivery time, so a rule edited after the event was emitted applies.
// Each rule is isolated: one rule's failure never blocks its siblings.
// A SuspendError from a delayed rule parks the whole job; on replay,
// rules with finished runs are skipped via the run dedup.
func (p *Pipeline) HandleEvent(ctx context.Context, job *Job) error {
	var payload outbox.EventJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode event job: %w", err)
	}

	ev, err := p.events.Get(ctx, payload.EventID)
	if err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			p.logger.Error("event vanished before delivery", "event", payload.EventID)
			return nil
		}
		return err
	}

	rules, err := p.rules.RulesFor(ctx, ev.TenantID, ev.Name)
	if err != nil {
		return fmt.Errorf("load rules for %s: %w", ev.Name, err)
	}
	if len(rules) == 0 {
		return nil
	}

	c := evctx.BuildAt(ev, p.now())

	var suspend *SuspendError
	for _, r := range rules {
		err := p.runRule(ctx, ev, r, c)
		if err == nil {
			continue
		}
		if s, ok := AsSuspend(err); ok {
			// Remember the earliest wakeup; keep processing siblings so a
			// delay in one rule does not starve the others.
			if suspend == nil || s.ResumeAt.Before(suspend.ResumeAt) {
				suspend = s
			}
			continue
		}
		p.logger.Error("rule execution failed",
			"rule", r.ID,
			"event", ev.ID,
			"error", err)
	}

	if suspend != nil {
		return suspend
	}
	return nil
}

// runRule evaluates and executes one rule against one event.
func (p *Pipeline) runRule(ctx context.Context, ev *outbox.Event, r *rule.Rule, c evctx.Context) error {
	matched, err := rule.Evaluate(r.Conditions, c)
	if err != nil {
		p.logger.Warn("condition evaluation failed, skipping rule",
			"rule", r.ID,
			"event", ev.ID,
			"error", err)
		return nil
	}
	if !matched {
		p.logger.Debug("conditions not met", "rule", r.ID, "event", ev.ID)
		return nil
	}

	rn := &run.Run{
		TenantID:      ev.TenantID,
		RuleID:        r.ID,
		SourceEventID: ev.ID,
		TriggerEvent:  ev.Name,
	}
	if err := p.runs.Create(ctx, rn); err != nil {
		if !errors.Is(err, run.ErrDuplicateRun) {
			return fmt.Errorf("create run: %w", err)
		}
		existing, err := p.runs.GetByRuleEvent(ctx, r.ID, ev.ID)
		if err != nil {
			return fmt.Errorf("load existing run: %w", err)
		}
		if existing.Finished() {
			// Redelivery of work already done.
			return nil
		}
		rn = existing
	}

	// The checkpoint is the count of persisted action logs: everything
	// before it already ran to an outcome on a previous delivery.
	resumeFrom := len(rn.Result)

	for i := resumeFrom; i < len(r.Actions); i++ {
		act := r.Actions[i]
		t := action.Type(act.Type)

		if t == action.TypeDelaySeconds {
			if err := p.delay(ctx, rn.ID, i, act.Args); err != nil {
				if _, ok := AsSuspend(err); ok {
					return err
				}
				if logErr := p.appendLog(ctx, rn.ID, run.ActionLog{
					Index:  i,
					Type:   t,
					Status: string(action.ResultFailed),
					Error:  err.Error(),
				}); logErr != nil {
					return p.failRun(ctx, rn.ID, logErr)
				}
				continue
			}
			if err := p.appendLog(ctx, rn.ID, run.ActionLog{
				Index:  i,
				Type:   t,
				Status: string(action.ResultSucceeded),
				Output: map[string]any{"seconds": delaySeconds(act.Args)},
			}); err != nil {
				return p.failRun(ctx, rn.ID, err)
			}
			continue
		}

		args := variable.Substitute(act.Args, c)
		args = variable.ApplyDefaults(t, args, c)

		res := p.runner.Run(ctx, ev.TenantID, t, args)
		log := run.ActionLog{
			Index:  i,
			Type:   t,
			Status: string(res.Status),
			Output: res.Output,
			Error:  res.Error,
		}
		if err := p.appendLog(ctx, rn.ID, log); err != nil {
			return p.failRun(ctx, rn.ID, err)
		}
	}

	if err := p.runs.Complete(ctx, rn.ID, run.StatusSucceeded, ""); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// delay suspends the run until the durable timer keyed by this action
// fires. The cap keeps a bad rule from parking a run for days.
func (p *Pipeline) delay(ctx context.Context, runID string, index int, args map[string]any) error {
	seconds := delaySeconds(args)
	if seconds < 0 {
		return fmt.Errorf("invalid delay: %d seconds", seconds)
	}
	if seconds > action.MaxDelaySeconds {
		seconds = action.MaxDelaySeconds
	}

	key := fmt.Sprintf("%s:%d", runID, index)
	return p.timers.Sleep(ctx, key, time.Duration(seconds)*time.Second)
}

func (p *Pipeline) appendLog(ctx context.Context, runID string, log run.ActionLog) error {
	if err := p.runs.AppendActionLog(ctx, runID, log); err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return nil
}

// failRun closes a run after an infrastructure error. Action failures are
// recorded outcomes, not run failures; only bookkeeping faults land here.
func (p *Pipeline) failRun(ctx context.Context, runID string, cause error) error {
	if err := p.runs.Complete(ctx, runID, run.StatusFailed, cause.Error()); err != nil {
		p.logger.Error("mark run failed", "run", runID, "error", err)
	}
	return cause
}

// delaySeconds reads the seconds argument, tolerating the numeric types
// JSON and YAML decoding produce.
func delaySeconds(args map[string]any) int {
	v, ok := args["seconds"]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return -1
		}
		return int(n)
	case string:
		var n int
		if _, err := fmt.Sscanf(t, "%d", &n); err != nil {
			return -1
		}
		return n
	default:
		return -1
	}
}
