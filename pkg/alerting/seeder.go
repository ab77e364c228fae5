package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stratushq/stratus/pkg/config"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
)

// reseed waits this long after the last file event before reloading,
// absorbing editor write bursts and atomic-rename saves.
const reseedDebounce = 500 * time.Millisecond

// Seeder applies the bootstrap condition set to every project that
// lacks a condition of the same name. Existing conditions are never
// touched, so operator edits made through the API survive restarts
// and file reloads.
type Seeder struct {
	store *store.Store
	path  string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSeeder creates a seeder for the bootstrap file at path. An empty
// path seeds the builtin defaults only.
func NewSeeder(st *store.Store, path string) *Seeder {
	return &Seeder{store: st, path: path}
}

// SeedAll loads the effective bootstrap set and applies it across all
// projects. A configured-but-missing file downgrades to the builtin
// defaults with a warning rather than failing startup.
func (s *Seeder) SeedAll(ctx context.Context) error {
	conditions, err := config.LoadAlertingBootstrap(s.path)
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return err
		}
		slog.Warn("Alerting bootstrap file missing, using builtin defaults", "path", s.path)
		if conditions, err = config.LoadAlertingBootstrap(""); err != nil {
			return err
		}
	}

	projects, err := s.store.Tenants.ListAllProjects(ctx)
	if err != nil {
		return err
	}

	var created int
	for _, project := range projects {
		n, err := s.seedProject(ctx, project, conditions)
		if err != nil {
			slog.Error("Seeding project failed",
				"project_id", project.ID, "tenant_id", project.TenantID, "error", err)
			continue
		}
		created += n
	}
	if created > 0 {
		slog.Info("Seeded bootstrap alert conditions",
			"created", created, "projects", len(projects))
	}
	return nil
}

// SeedProject applies the bootstrap set to a single project, typically
// right after project creation.
func (s *Seeder) SeedProject(ctx context.Context, project *models.Project) error {
	conditions, err := config.LoadAlertingBootstrap(s.path)
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return err
		}
		if conditions, err = config.LoadAlertingBootstrap(""); err != nil {
			return err
		}
	}
	_, err = s.seedProject(ctx, project, conditions)
	return err
}

func (s *Seeder) seedProject(ctx context.Context, project *models.Project, conditions []config.BootstrapCondition) (int, error) {
	created := 0
	for _, bc := range conditions {
		_, err := s.store.Alerts.GetConditionByName(ctx, project.TenantID, project.ID, bc.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return created, err
		}

		cond := &models.AlertCondition{
			TenantID:        project.TenantID,
			ProjectID:       project.ID,
			Name:            bc.Name,
			MetricName:      bc.MetricName,
			Service:         bc.Service,
			Operator:        bc.Operator,
			Threshold:       bc.Threshold,
			DurationMinutes: bc.DurationMinutes,
			Severity:        bc.Severity,
			IsEnabled:       bc.IsEnabled(),
		}
		if _, err := s.store.Alerts.CreateCondition(ctx, cond); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// Watch reseeds whenever the bootstrap file changes. No-op when no
// path is configured.
func (s *Seeder) Watch(ctx context.Context) error {
	if s.path == "" || s.cancel != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating bootstrap watcher: %w", err)
	}
	// Watch the directory, not the file: editors and configmap mounts
	// replace the file on save, which silently drops a direct watch.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.watch(ctx, watcher)

	slog.Info("Alerting bootstrap watcher started", "path", s.path)
	return nil
}

// Stop halts the watcher and waits for it to finish.
func (s *Seeder) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Seeder) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(s.done)
	defer watcher.Close()

	debounce := time.NewTimer(reseedDebounce)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
				continue
			}
			debounce.Reset(reseedDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Bootstrap watcher error", "error", err)

		case <-debounce.C:
			slog.Info("Alerting bootstrap changed, reseeding", "path", s.path)
			if err := s.SeedAll(ctx); err != nil {
				slog.Error("Bootstrap reseed failed", "error", err)
			}
		}
	}
}
