package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/libops/relocation/internal/backup"
	"github.com/libops/relocation/internal/cloudbuild"
	"github.com/libops/relocation/internal/gcp"
	"github.com/libops/relocation/internal/metrics"
	"github.com/libops/relocation/internal/relocation"
	"github.com/libops/relocation/internal/taskqueue"
)

func (o *Orchestrator) validatingStart(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	v, err := o.Store.GetValidation(ctx, r.ID)
	if err != nil {
		return err
	}
	if v.Attempts >= o.cfg.MaxValidationRuns {
		return relocation.Fatal(relocation.ErrValidatingMaxRuns, nil)
	}

	raw, err := o.Bucket.Read(ctx, gcp.ConfPath(r.UUID, gcp.BuildConfigFile))
	if err != nil {
		return fmt.Errorf("read build config: %w", err)
	}
	spec, err := cloudbuild.ParseSpec(raw)
	if err != nil {
		return err
	}
	buildID, err := o.Builds.CreateBuild(ctx, spec)
	if err != nil {
		return fmt.Errorf("submit validation build: %w", err)
	}

	slog.InfoContext(ctx, "Validation build submitted", "build_id", buildID, "run", v.Attempts+1)

	// Only the delivery that advances counts the run.
	return o.advance(ctx, r, relocation.StepValidating, relocation.Dispatch{
		Task:    relocation.TaskValidatingPoll,
		BuildID: buildID,
		Delay:   o.cfg.ValidationPollInterval,
	}, func(ctx context.Context) error {
		return o.Store.CreateValidationAttempt(ctx, &relocation.ValidationAttempt{
			RelocationID: r.ID,
			ValidationID: v.ID,
			BuildID:      buildID,
			Status:       relocation.AttemptInProgress,
		})
	})
}

// markAttempt is an effect recording the outcome of a validation build.
func (o *Orchestrator) markAttempt(buildID string, status relocation.AttemptStatus) relocation.Effect {
	return func(ctx context.Context) error {
		return o.Store.SetValidationAttemptStatus(ctx, buildID, status)
	}
}

func (o *Orchestrator) validatingPoll(ctx context.Context, r *relocation.Relocation, msg taskqueue.Message) error {
	if msg.BuildID == "" {
		return fmt.Errorf("poll without a build id")
	}
	status, err := o.Builds.GetBuild(ctx, msg.BuildID)
	switch {
	case errors.Is(err, cloudbuild.ErrBuildNotFound):
		// It will never report a result; spend a run instead of the poll budget.
		slog.WarnContext(ctx, "Validation build not found", "build_id", msg.BuildID)
		status = cloudbuild.StatusFailure
	case err != nil:
		return fmt.Errorf("get build %s: %w", msg.BuildID, err)
	}
	metrics.RecordBuildPoll(string(status))

	restart := relocation.Dispatch{Task: relocation.TaskValidatingStart}
	switch {
	case status == cloudbuild.StatusSuccess:
		return o.advance(ctx, r, relocation.StepValidating, relocation.Dispatch{
			Task:    relocation.TaskValidatingComplete,
			BuildID: msg.BuildID,
		}, nil)
	case status.TimedOut():
		slog.WarnContext(ctx, "Validation build timed out", "build_id", msg.BuildID, "status", status)
		metrics.RecordValidationRun(string(relocation.AttemptTimeout))
		return o.advance(ctx, r, relocation.StepValidating, restart, o.markAttempt(msg.BuildID, relocation.AttemptTimeout))
	case status.IsTerminal():
		slog.WarnContext(ctx, "Validation build failed", "build_id", msg.BuildID, "status", status)
		metrics.RecordValidationRun(string(relocation.AttemptFailure))
		return o.advance(ctx, r, relocation.StepValidating, restart, o.markAttempt(msg.BuildID, relocation.AttemptFailure))
	default:
		if err := o.Store.SetValidationAttemptStatus(ctx, msg.BuildID, relocation.AttemptInProgress); err != nil {
			return err
		}
		return o.Store.Requeue(ctx, r.UUID, relocation.TurnOf(r), relocation.Dispatch{
			Task:    relocation.TaskValidatingPoll,
			BuildID: msg.BuildID,
			Delay:   o.cfg.ValidationPollInterval,
		})
	}
}

func (o *Orchestrator) validatingComplete(ctx context.Context, r *relocation.Relocation, msg taskqueue.Message) error {
	names, err := o.Bucket.List(ctx, gcp.FindingsPrefix(r.UUID))
	if err != nil {
		return fmt.Errorf("list findings: %w", err)
	}

	var findings []backup.Finding
	for _, name := range names {
		if !backup.IsFindingsFile(name) {
			continue
		}
		data, err := o.Bucket.Read(ctx, name)
		if err != nil {
			return fmt.Errorf("read findings %s: %w", path.Base(name), err)
		}
		parsed, err := backup.ParseFindings(data)
		if err != nil {
			return fmt.Errorf("findings %s: %w", path.Base(name), err)
		}
		findings = append(findings, parsed...)
	}

	v, err := o.Store.GetValidation(ctx, r.ID)
	if err != nil {
		return err
	}

	if len(findings) > 0 {
		slog.WarnContext(ctx, "Validation produced findings", "build_id", msg.BuildID, "count", len(findings), "first", findings[0].String())
		metrics.RecordValidationRun(string(relocation.AttemptInvalid))
		if v.Attempts < o.cfg.MaxValidationRuns {
			return o.advance(ctx, r, relocation.StepValidating, relocation.Dispatch{Task: relocation.TaskValidatingStart},
				o.markAttempt(msg.BuildID, relocation.AttemptInvalid))
		}
		if err := o.Store.SetValidationAttemptStatus(ctx, msg.BuildID, relocation.AttemptInvalid); err != nil {
			return err
		}
		if err := o.Store.SetValidationStatus(ctx, v.ID, relocation.ValidationInvalid); err != nil {
			return err
		}
		return relocation.Fatal(relocation.ErrValidatingInvalid(len(findings), findings[0].String()), nil)
	}

	metrics.RecordValidationRun(string(relocation.AttemptValid))
	return o.advance(ctx, r, relocation.StepImporting, relocation.Dispatch{Task: relocation.TaskImporting}, func(ctx context.Context) error {
		if err := o.Store.SetValidationAttemptStatus(ctx, msg.BuildID, relocation.AttemptValid); err != nil {
			return err
		}
		return o.Store.SetValidationStatus(ctx, v.ID, relocation.ValidationValid)
	})
}
