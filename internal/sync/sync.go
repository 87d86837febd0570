// Package sync reconciles the managed systemd units with the desired
// configuration: it plans creates, updates and removals against the recorded
// state and applies them one at a time.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/schaermu/unitsync/internal/config"
	"github.com/schaermu/unitsync/internal/git"
	"github.com/schaermu/unitsync/internal/render"
	"github.com/schaermu/unitsync/internal/state"
	"github.com/schaermu/unitsync/internal/systemd"
)

// DriftError reports managed units whose file on disk no longer matches the
// recorded state, and unmanaged files that a create would overwrite.
type DriftError struct {
	Units []string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("units modified outside of unitsync: %s (use --force to overwrite)", strings.Join(e.Units, ", "))
}

// Options control a single run
type Options struct {
	// DryRun computes the plan without applying it
	DryRun bool
	// Force applies actions on drifted units instead of refusing
	Force bool
}

// Engine orchestrates the sync process
type Engine struct {
	cfg      *config.Config
	renderer render.Renderer
	store    *state.Store
	systemd  systemd.Manager
	git      git.Client
	logger   *slog.Logger

	// sourceDir is where a configured template repository is checked out
	sourceDir string
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, renderer render.Renderer, store *state.Store, manager systemd.Manager, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		renderer: renderer,
		store:    store,
		systemd:  manager,
		logger:   logger,
	}
}

// WithSource configures the git client and checkout directory used to fetch
// the templates repository before rendering.
func (e *Engine) WithSource(client git.Client, dir string) *Engine {
	e.git = client
	e.sourceDir = dir
	return e
}

// Drift is a unit whose on-disk content differs from what unitsync last wrote
type Drift struct {
	Unit    string
	Managed bool
}

// Session is a prepared run: the state lock is held, desired units are
// rendered and the plan is computed. Release must be called when done.
type Session struct {
	engine *Engine
	opts   Options

	State   state.State
	Desired []render.Unit
	Plan    *Plan
	// OnDisk holds the current unit file content for planned actions,
	// keyed by unit name; missing files are absent.
	OnDisk map[string]string
	Drift  []Drift

	released bool
}

// Result is the outcome of applying a session
type Result struct {
	Plan    *Plan
	Results []ActionResult
	State   state.State
}

// Failed returns the results of actions that did not succeed
func (r *Result) Failed() []ActionResult {
	var failed []ActionResult
	for _, res := range r.Results {
		if !res.Succeeded() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Partial reports whether at least one action failed
func (r *Result) Partial() bool {
	return len(r.Failed()) > 0
}

// Prepare takes the state lock, fetches templates, renders every desired
// unit, loads the state and computes the plan. Any error here is fatal and
// nothing on the host has been changed.
func (e *Engine) Prepare(ctx context.Context, opts Options) (*Session, error) {
	// The lock also guards the shared template checkout
	if err := e.store.Lock(); err != nil {
		return nil, err
	}
	s := &Session{engine: e, opts: opts}

	if err := s.prepare(ctx); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

func (s *Session) prepare(ctx context.Context) error {
	e := s.engine

	if e.cfg.Source.URL != "" && e.git != nil {
		e.logger.Info("fetching template repository", "url", e.cfg.Source.URL, "ref", e.cfg.Source.Ref, "dest", e.sourceDir)
		commit, err := e.git.Checkout(ctx, e.cfg.Source.URL, e.cfg.Source.Ref, e.sourceDir)
		if err != nil {
			return fmt.Errorf("failed to checkout template repository: %w", err)
		}
		e.logger.Info("template repository checked out", "commit", commit)
	}

	specs := e.cfg.Specs()
	e.logger.Info("rendering units", "count", len(specs))
	desired, err := render.RenderAll(ctx, e.renderer, specs)
	if err != nil {
		return err
	}
	s.Desired = desired

	return s.plan(ctx)
}

func (s *Session) plan(ctx context.Context) error {
	e := s.engine

	current, err := e.store.Load()
	if err != nil {
		return err
	}
	s.State = current
	e.logger.Debug("state loaded", "path", e.store.Path(), "managed", len(current))

	plan, err := BuildPlan(s.Desired, current)
	if err != nil {
		return &config.Error{Err: err}
	}
	s.Plan = plan

	create, update, remove := plan.Counts()
	e.logger.Info("sync plan", "create", create, "update", update, "remove", remove)

	if err := s.inspectDisk(ctx); err != nil {
		return err
	}

	if len(s.Drift) > 0 {
		units := make([]string, 0, len(s.Drift))
		for _, d := range s.Drift {
			units = append(units, d.Unit)
		}
		if !s.opts.Force {
			return &DriftError{Units: units}
		}
		e.logger.Warn("overwriting units modified outside of unitsync", "units", units)
	}

	return nil
}

// inspectDisk reads the current file of every planned unit and records
// drift: a managed file whose hash no longer matches the state, or an
// unmanaged file that a create would replace with different content.
func (s *Session) inspectDisk(ctx context.Context) error {
	e := s.engine
	s.OnDisk = make(map[string]string)

	for _, action := range s.Plan.Actions {
		data, err := e.systemd.ReadUnitFile(ctx, action.Name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to read unit file %s: %w", action.Name, err)
		}
		content := string(data)
		s.OnDisk[action.Name] = content

		switch action.Kind {
		case ActionCreate:
			if render.Hash(data) != action.Unit.ContentHash {
				s.Drift = append(s.Drift, Drift{Unit: action.Name})
			}
		case ActionUpdate:
			// The rendered content already on disk is a previous run's
			// update that failed after writing the file.
			hash := render.Hash(data)
			if hash != s.State[action.Name].ContentHash && hash != action.Unit.ContentHash {
				s.Drift = append(s.Drift, Drift{Unit: action.Name, Managed: true})
			}
		case ActionRemove:
			if render.Hash(data) != s.State[action.Name].ContentHash {
				s.Drift = append(s.Drift, Drift{Unit: action.Name, Managed: true})
			}
		}
	}
	return nil
}

// Drifted reports whether the unit was found modified on disk
func (s *Session) Drifted(unit string) bool {
	for _, d := range s.Drift {
		if d.Unit == unit {
			return true
		}
	}
	return false
}

// Apply executes the plan, persisting state after every successful action
// and once more at the end. It returns an error only if the final state
// could not be saved; failed actions are reported in the result.
func (s *Session) Apply(ctx context.Context) (*Result, error) {
	e := s.engine
	if s.released {
		return nil, fmt.Errorf("session already released")
	}

	result := &Result{Plan: s.Plan, State: s.State}
	if s.opts.DryRun {
		e.logger.Info("dry-run complete, no changes applied")
		return result, nil
	}
	if s.Plan.Empty() {
		e.logger.Info("managed units already in sync")
		return result, nil
	}

	executor := NewExecutor(e.systemd, e.store.Save, e.logger)
	final, results := executor.Apply(ctx, s.Plan, s.State)
	result.State = final
	result.Results = results

	if err := e.store.Save(final); err != nil {
		return result, err
	}

	if result.Partial() {
		e.logger.Warn("sync completed with failures", "failed", len(result.Failed()), "total", len(results))
	} else {
		e.logger.Info("sync completed successfully", "actions", len(results))
	}
	return result, nil
}

// Release drops the state lock. It is safe to call more than once.
func (s *Session) Release() {
	if s.released {
		return
	}
	s.released = true
	if err := s.engine.store.Unlock(); err != nil {
		s.engine.logger.Warn("failed to release state lock", "error", err)
	}
}

// Run prepares and applies in one step, without confirmation
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	s, err := e.Prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer s.Release()

	return s.Apply(ctx)
}
