package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/libops/relocation/internal/backup"
	"github.com/libops/relocation/internal/metrics"
	"github.com/libops/relocation/internal/notify"
	"github.com/libops/relocation/internal/relocation"
	"github.com/libops/relocation/internal/taskqueue"
)

func (o *Orchestrator) importing(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	chunks, err := o.Store.ListImportChunks(ctx, r.UUID)
	if err != nil {
		return err
	}
	// A previous delivery committed the import but did not advance.
	if len(chunks) > 0 {
		slog.InfoContext(ctx, "Import already committed", "chunks", len(chunks))
		return o.advance(ctx, r, relocation.StepPostprocessing, relocation.Dispatch{Task: relocation.TaskPostprocessing}, nil)
	}

	data, err := o.readFile(ctx, r, relocation.FileRawUserData)
	if err != nil {
		return err
	}
	plaintext, err := o.decrypt(ctx, data)
	if err != nil {
		return err
	}
	models, err := backup.Parse(plaintext)
	if err != nil {
		return err
	}

	chunks, err = o.Engine.Import(ctx, models, backup.Flags{
		ImportUUID: r.UUID,
		OrgFilter:  r.WantOrgSlugs,
		MergeUsers: false,
	})
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	slog.InfoContext(ctx, "Import committed", "chunks", len(chunks))

	return o.advance(ctx, r, relocation.StepPostprocessing, relocation.Dispatch{Task: relocation.TaskPostprocessing}, nil)
}

// chunkFor returns the import chunk written for model.
func (o *Orchestrator) chunkFor(ctx context.Context, r *relocation.Relocation, model string) (*relocation.ImportChunk, error) {
	chunks, err := o.Store.ListImportChunks(ctx, r.UUID)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.Model == model {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no %s import chunk for %s", model, r.UUID)
}

func (o *Orchestrator) postprocessing(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	orgs, err := o.chunkFor(ctx, r, backup.ModelOrganization)
	if err != nil {
		return err
	}

	if !r.SelfService() {
		for _, old := range slices.Sorted(maps.Keys(orgs.InsertedMap)) {
			if err := o.Engine.GrantOwner(ctx, orgs.InsertedMap[old], r.OwnerID); err != nil {
				return fmt.Errorf("grant owner of %s: %w", orgs.InsertedIdentifiers[old], err)
			}
		}
	}
	return o.advance(ctx, r, relocation.StepNotifying, relocation.Dispatch{Task: relocation.TaskNotifyingUsers}, nil)
}

func (o *Orchestrator) notifyingUsers(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	users, err := o.chunkFor(ctx, r, backup.ModelUser)
	if err != nil {
		return err
	}

	olds := slices.Sorted(maps.Keys(users.InsertedMap))
	emails := make([]string, len(olds))
	for i, old := range olds {
		emails[i], err = o.Engine.UserEmail(ctx, users.InsertedMap[old])
		if err != nil {
			return err
		}
	}
	return o.advance(ctx, r, relocation.StepNotifying, relocation.Dispatch{Task: relocation.TaskNotifyingOwner}, func(ctx context.Context) error {
		for i, old := range olds {
			err := o.Notifier.Send(ctx, notify.KindAccountRelocated, []string{emails[i]}, map[string]any{
				"uuid":     r.UUID.String(),
				"username": users.InsertedIdentifiers[old],
				"orgs":     r.WantOrgSlugs,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// notifyingOwner running out of attempts fails the relocation, and the
// failure notification then follows the success message that could not be
// sent.
func (o *Orchestrator) notifyingOwner(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	return o.advance(ctx, r, relocation.StepCompleted, relocation.Dispatch{Task: relocation.TaskCompleted}, o.notice(r, notify.KindSucceeded))
}

func (o *Orchestrator) completed(ctx context.Context, r *relocation.Relocation, _ taskqueue.Message) error {
	if err := o.Store.Succeed(ctx, r.UUID); err != nil {
		return err
	}
	metrics.RecordRelocationFinished(string(relocation.StatusSuccess), string(relocation.StepCompleted))
	slog.InfoContext(ctx, "Relocation completed")
	return nil
}
