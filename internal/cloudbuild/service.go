package cloudbuild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	cloudbuild "google.golang.org/api/cloudbuild/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Config selects where validation builds run.
type Config struct {
	ProjectID string
	// Location defaults to "global".
	Location string
	// RatePerSecond is this process's share of the build API quota.
	RatePerSecond float64
}

// Service submits builds to Google Cloud Build.
type Service struct {
	builds   *cloudbuild.ProjectsLocationsBuildsService
	location string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[*cloudbuild.Build]
}

// NewService creates a Cloud Build client.
func NewService(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Service, error) {
	svc, err := cloudbuild.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate cloudbuild.Service: %w", err)
	}

	location := cfg.Location
	if location == "" {
		location = "global"
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}

	return &Service{
		builds:   svc.Projects.Locations.Builds,
		location: fmt.Sprintf("projects/%s/locations/%s", cfg.ProjectID, location),
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		breaker:  newBreaker(),
	}, nil
}

func newBreaker() *gobreaker.CircuitBreaker[*cloudbuild.Build] {
	return gobreaker.NewCircuitBreaker[*cloudbuild.Build](gobreaker.Settings{
		Name:        "cloudbuild",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 404 on GetBuild is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrBuildNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (s *Service) call(ctx context.Context, fn func() (*cloudbuild.Build, error)) (*cloudbuild.Build, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.breaker.Execute(fn)
}

// CreateBuild implements Client.
func (s *Service) CreateBuild(ctx context.Context, spec *Spec) (string, error) {
	build := toAPI(spec)

	created, err := s.call(ctx, func() (*cloudbuild.Build, error) {
		op, err := s.builds.Create(s.location, build).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("API call to Cloud Build failed: %w", err)
		}

		// Cloud Build returns the triggered build in the operation metadata.
		var metadata struct {
			Build *cloudbuild.Build `json:"build"`
		}
		if err := json.Unmarshal(op.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation metadata %s: %w", op.Metadata, err)
		}
		if metadata.Build == nil || metadata.Build.Id == "" {
			return nil, fmt.Errorf("build id missing from operation metadata %s", op.Metadata)
		}
		return metadata.Build, nil
	})
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Submitted validation build", "build_id", created.Id, "location", s.location)
	return created.Id, nil
}

// GetBuild implements Client.
func (s *Service) GetBuild(ctx context.Context, buildID string) (Status, error) {
	build, err := s.call(ctx, func() (*cloudbuild.Build, error) {
		b, err := s.builds.Get(fmt.Sprintf("%s/builds/%s", s.location, buildID)).Context(ctx).Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
				return nil, fmt.Errorf("build %s: %w", buildID, ErrBuildNotFound)
			}
			return nil, fmt.Errorf("API call to Cloud Build failed: %w", err)
		}
		return b, nil
	})
	if err != nil {
		return StatusUnknown, err
	}
	return Status(build.Status), nil
}

func toAPI(spec *Spec) *cloudbuild.Build {
	build := &cloudbuild.Build{Timeout: spec.Timeout}
	for _, s := range spec.Steps {
		build.Steps = append(build.Steps, &cloudbuild.BuildStep{
			Id:         s.ID,
			Name:       s.Name,
			Entrypoint: s.Entrypoint,
			Args:       s.Args,
			Env:        s.Env,
			WaitFor:    s.WaitFor,
			Timeout:    s.Timeout,
		})
	}
	if spec.Artifacts != nil && spec.Artifacts.Objects != nil {
		build.Artifacts = &cloudbuild.Artifacts{
			Objects: &cloudbuild.ArtifactObjects{
				Location: spec.Artifacts.Objects.Location,
				Paths:    spec.Artifacts.Objects.Paths,
			},
		}
	}
	if spec.Options != nil {
		build.Options = &cloudbuild.BuildOptions{
			MachineType: spec.Options.MachineType,
			Env:         spec.Options.Env,
		}
	}
	return build
}
