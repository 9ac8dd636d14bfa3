// Package orchestrator runs the relocation pipeline: one generic wrapper
// drives every task through attempt counting, failure handling and the
// hand-off to the next task.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/libops/relocation/internal/backup"
	"github.com/libops/relocation/internal/blobstore"
	"github.com/libops/relocation/internal/cloudbuild"
	"github.com/libops/relocation/internal/config"
	"github.com/libops/relocation/internal/kms"
	"github.com/libops/relocation/internal/logging"
	"github.com/libops/relocation/internal/metrics"
	"github.com/libops/relocation/internal/notify"
	"github.com/libops/relocation/internal/relocation"
	"github.com/libops/relocation/internal/taskqueue"
)

// Config holds the ceilings and build settings of the pipeline.
type Config struct {
	config.PipelineConfig
	// BuildImage runs the validation commands inside the remote build.
	BuildImage string
	// BuildTimeout bounds one validation build.
	BuildTimeout time.Duration
}

// Deps are the collaborators the pipeline drives.
type Deps struct {
	Store    relocation.Store
	Bucket   blobstore.Bucket
	KMS      kms.Service
	Builds   cloudbuild.Client
	Engine   backup.Engine
	Notifier notify.Gateway
}

type body func(ctx context.Context, r *relocation.Relocation, msg taskqueue.Message) error

type taskSpec struct {
	step relocation.Step
	// slow tasks poll and use the larger attempt ceiling.
	slow bool
	// reason is recorded when the task runs out of attempts.
	reason string
	run    body
}

// Orchestrator implements taskqueue.Handler for every relocation task.
type Orchestrator struct {
	Deps
	cfg   Config
	tasks map[relocation.Task]taskSpec
}

var _ taskqueue.Handler = (*Orchestrator)(nil)

// New wires the task table.
func New(deps Deps, cfg Config) *Orchestrator {
	o := &Orchestrator{Deps: deps, cfg: cfg}
	o.tasks = map[relocation.Task]taskSpec{
		relocation.TaskUploadingComplete:           {step: relocation.StepUploading, reason: relocation.ErrUploadingFailed, run: o.uploadingComplete},
		relocation.TaskPreprocessingScan:           {step: relocation.StepPreprocessing, reason: relocation.ErrPreprocessingInternal, run: o.preprocessingScan},
		relocation.TaskPreprocessingBaselineConfig: {step: relocation.StepPreprocessing, reason: relocation.ErrPreprocessingInternal, run: o.preprocessingBaselineConfig},
		relocation.TaskPreprocessingCollidingUsers: {step: relocation.StepPreprocessing, reason: relocation.ErrPreprocessingInternal, run: o.preprocessingCollidingUsers},
		relocation.TaskPreprocessingComplete:       {step: relocation.StepPreprocessing, reason: relocation.ErrPreprocessingInternal, run: o.preprocessingComplete},
		relocation.TaskValidatingStart:             {step: relocation.StepValidating, reason: relocation.ErrValidatingInternal, run: o.validatingStart},
		relocation.TaskValidatingPoll:              {step: relocation.StepValidating, slow: true, reason: relocation.ErrValidatingInternal, run: o.validatingPoll},
		relocation.TaskValidatingComplete:          {step: relocation.StepValidating, reason: relocation.ErrValidatingInternal, run: o.validatingComplete},
		relocation.TaskImporting:                   {step: relocation.StepImporting, reason: relocation.ErrImportingInternal, run: o.importing},
		relocation.TaskPostprocessing:              {step: relocation.StepPostprocessing, reason: relocation.ErrPostprocessingInternal, run: o.postprocessing},
		relocation.TaskNotifyingUsers:              {step: relocation.StepNotifying, reason: relocation.ErrNotifyingInternal, run: o.notifyingUsers},
		relocation.TaskNotifyingOwner:              {step: relocation.StepNotifying, reason: relocation.ErrNotifyingInternal, run: o.notifyingOwner},
		relocation.TaskCompleted:                   {step: relocation.StepCompleted, reason: relocation.ErrCompletedInternal, run: o.completed},
	}
	return o
}

func (o *Orchestrator) ceiling(spec taskSpec) int {
	if spec.slow {
		return o.cfg.MaxValidationPollAttempts
	}
	return o.cfg.MaxFastTaskAttempts
}

// Handle runs one delivery of a task. A returned error asks the queue to
// deliver the same task again; every terminal outcome returns nil.
func (o *Orchestrator) Handle(ctx context.Context, msg taskqueue.Message) error {
	spec, ok := o.tasks[msg.Task]
	if !ok {
		return fmt.Errorf("no handler for task %q", msg.Task)
	}
	ctx = logging.WithTask(ctx, msg.RelocationUUID, msg.Task.String())

	r, err := o.Store.Get(ctx, msg.RelocationUUID)
	if errors.Is(err, relocation.ErrNotFound) {
		slog.WarnContext(ctx, "Dropping task for unknown relocation")
		metrics.RecordTaskRun(msg.Task.String(), "skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load relocation: %w", err)
	}
	if r.Status.Terminal() {
		slog.InfoContext(ctx, "Relocation already finished, ignoring task", "status", r.Status)
		metrics.RecordTaskRun(msg.Task.String(), "skipped")
		return nil
	}
	if r.LatestTask != msg.Task {
		slog.InfoContext(ctx, "Ignoring stale task delivery", "latest_task", r.LatestTask)
		metrics.RecordTaskRun(msg.Task.String(), "skipped")
		return nil
	}

	attempts, err := o.Store.RecordAttempt(ctx, r.UUID, msg.Task)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	metrics.RecordTaskAttempt(msg.Task.String(), attempts)
	r.LatestTaskAttempts = attempts

	ceiling := o.ceiling(spec)
	if attempts > ceiling {
		slog.ErrorContext(ctx, "Task out of attempts", "attempts", attempts, "ceiling", ceiling)
		metrics.RecordTaskRun(msg.Task.String(), "failed")
		return o.fail(ctx, r, spec.reason)
	}

	start := time.Now()
	err = spec.run(ctx, r, msg)
	metrics.RecordTaskDuration(msg.Task.String(), time.Since(start).Seconds())
	if err == nil {
		metrics.RecordTaskRun(msg.Task.String(), "success")
		return nil
	}
	if errors.Is(err, relocation.ErrStale) {
		slog.InfoContext(ctx, "Task superseded by a newer delivery", "attempts", attempts)
		metrics.RecordTaskRun(msg.Task.String(), "skipped")
		return nil
	}

	te, isTaskErr := relocation.AsTaskError(err)
	if isTaskErr && te.Fatal {
		slog.WarnContext(ctx, "Task rejected relocation", "reason", te.Reason, "error", err)
		metrics.RecordTaskRun(msg.Task.String(), "failed")
		return o.fail(ctx, r, te.Reason)
	}
	if attempts >= ceiling {
		reason := spec.reason
		if isTaskErr && te.Reason != "" {
			reason = te.Reason
		}
		slog.ErrorContext(ctx, "Task failed on its last attempt", "attempts", attempts, "error", err)
		metrics.RecordTaskRun(msg.Task.String(), "failed")
		return o.fail(ctx, r, reason)
	}

	slog.WarnContext(ctx, "Task failed, will retry", "attempts", attempts, "ceiling", ceiling, "error", err)
	metrics.RecordTaskRun(msg.Task.String(), "retry")
	return err
}

// fail records reason and, when this call ended the relocation, queues the
// single failure notification in the same transaction. An error leaves the
// relocation in progress so a redelivery fails it again.
func (o *Orchestrator) fail(ctx context.Context, r *relocation.Relocation, reason string) error {
	to, err := o.recipients(ctx, r)
	if err != nil {
		slog.ErrorContext(ctx, "Cannot address failure notification", "error", err)
	}
	changed, err := o.Store.Fail(ctx, r.UUID, reason, func(ctx context.Context) error {
		if len(to) == 0 {
			return nil
		}
		err := o.Notifier.Send(ctx, notify.KindFailed, to, payload(r, map[string]any{"reason": reason}))
		if errors.Is(err, notify.ErrUndeliverable) {
			slog.ErrorContext(ctx, "Failure notification undeliverable", "error", err)
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("fail relocation: %w", err)
	}
	if !changed {
		return nil
	}
	metrics.RecordRelocationFinished(string(relocation.StatusFailure), string(r.Step))
	slog.ErrorContext(ctx, "Relocation failed", "step", r.Step, "reason", reason)
	return nil
}

// advance hands the relocation to next on behalf of the delivery that
// loaded r. effect commits with the transition or not at all.
func (o *Orchestrator) advance(ctx context.Context, r *relocation.Relocation, step relocation.Step, next relocation.Dispatch, effect relocation.Effect) error {
	return o.Store.Advance(ctx, r.UUID, relocation.TurnOf(r), step, next, effect)
}

// notice is an effect sending kind to the relocation's recipients.
func (o *Orchestrator) notice(r *relocation.Relocation, kind notify.Kind) relocation.Effect {
	return func(ctx context.Context) error {
		return o.notify(ctx, r, kind, nil)
	}
}

// recipients are the owner and, when someone else started the relocation,
// its creator.
func (o *Orchestrator) recipients(ctx context.Context, r *relocation.Relocation) ([]string, error) {
	owner, err := o.Engine.UserEmail(ctx, r.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("owner email: %w", err)
	}
	if r.SelfService() {
		return []string{owner}, nil
	}
	creator, err := o.Engine.UserEmail(ctx, r.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("creator email: %w", err)
	}
	if creator == owner {
		return []string{owner}, nil
	}
	return []string{owner, creator}, nil
}

func (o *Orchestrator) notify(ctx context.Context, r *relocation.Relocation, kind notify.Kind, data map[string]any) error {
	to, err := o.recipients(ctx, r)
	if err != nil {
		return err
	}
	return o.Notifier.Send(ctx, kind, to, payload(r, data))
}

func payload(r *relocation.Relocation, data map[string]any) map[string]any {
	out := map[string]any{
		"uuid": r.UUID.String(),
		"orgs": r.WantOrgSlugs,
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}
