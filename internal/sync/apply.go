package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/schaermu/unitsync/internal/state"
	"github.com/schaermu/unitsync/internal/systemd"
	"github.com/schaermu/unitsync/internal/unitfile"
)

// ApplyError reports the step at which an action failed
type ApplyError struct {
	Action Action
	Step   string
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Action, e.Step, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// ActionResult is the outcome of one action. Err is nil on success.
type ActionResult struct {
	Action Action
	Err    error
}

// Succeeded reports whether the action was applied
func (r ActionResult) Succeeded() bool {
	return r.Err == nil
}

// Checkpoint persists the state after each successful action
type Checkpoint func(state.State) error

// Executor applies a plan one action at a time against a service manager.
type Executor struct {
	manager    systemd.Manager
	checkpoint Checkpoint
	logger     *slog.Logger
}

// NewExecutor creates an executor. checkpoint may be nil.
func NewExecutor(manager systemd.Manager, checkpoint Checkpoint, logger *slog.Logger) *Executor {
	return &Executor{
		manager:    manager,
		checkpoint: checkpoint,
		logger:     logger,
	}
}

// Apply executes every action in plan order and returns the resulting state
// with one result per action. A failed action leaves its unit's entry at the
// prior value and does not stop the remaining actions. The input state is
// not modified.
func (x *Executor) Apply(ctx context.Context, plan *Plan, current state.State) (state.State, []ActionResult) {
	st := current.Clone()
	results := make([]ActionResult, 0, len(plan.Actions))

	for _, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			x.logger.Warn("skipping action, run cancelled", "unit", action.Name, "action", action.Kind.String())
			results = append(results, ActionResult{
				Action: action,
				Err:    &ApplyError{Action: action, Step: "start", Err: err},
			})
			continue
		}

		x.logger.Info("applying action", "unit", action.Name, "action", action.Kind.String())

		var err error
		switch action.Kind {
		case ActionCreate, ActionUpdate:
			err = x.install(ctx, action)
		case ActionRemove:
			err = x.uninstall(ctx, action)
		default:
			err = &ApplyError{Action: action, Step: "dispatch", Err: fmt.Errorf("unknown action kind %s", action.Kind)}
		}

		if err != nil {
			x.logger.Error("action failed", "unit", action.Name, "action", action.Kind.String(), "error", err)
			results = append(results, ActionResult{Action: action, Err: err})
			continue
		}

		// The unit is live from here on, so the state follows it even if the
		// checkpoint below fails; the next successful save records it.
		if action.Kind == ActionRemove {
			delete(st, action.Name)
		} else {
			st[action.Name] = state.Record{
				Template:    action.Unit.Template,
				ContentHash: action.Unit.ContentHash,
			}
		}

		if x.checkpoint != nil {
			if err := x.checkpoint(st); err != nil {
				err = &ApplyError{Action: action, Step: "save state", Err: err}
				x.logger.Error("failed to persist state", "unit", action.Name, "error", err)
				results = append(results, ActionResult{Action: action, Err: err})
				continue
			}
		}

		x.logger.Info("action applied", "unit", action.Name, "action", action.Kind.String())
		results = append(results, ActionResult{Action: action})
	}

	return st, results
}

// install writes the unit, reloads the manager and activates the unit
// according to its definition.
func (x *Executor) install(ctx context.Context, action Action) error {
	name := action.Name
	fail := func(step string, err error) error {
		return &ApplyError{Action: action, Step: step, Err: err}
	}

	info := unitfile.Inspect(action.Unit.Content)

	// An update that drops the enable directives must undo the old enable
	if action.Kind == ActionUpdate && !info.Installable {
		old, err := x.manager.ReadUnitFile(ctx, name)
		switch {
		case err == nil:
			if unitfile.Inspect(string(old)).Installable {
				if err := x.manager.Disable(ctx, name); err != nil {
					return fail("disable", err)
				}
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fail("read unit file", err)
		}
	}

	if err := x.manager.WriteUnitFile(ctx, name, []byte(action.Unit.Content)); err != nil {
		return fail("write unit file", err)
	}
	if err := x.manager.DaemonReload(ctx); err != nil {
		return fail("daemon-reload", err)
	}

	if info.Installable {
		if err := x.manager.Enable(ctx, name); err != nil {
			return fail("enable", err)
		}
	}

	restart := info.Startable()
	if !restart && action.Kind == ActionUpdate {
		// Units that are not started by us are still restarted when already
		// running so they pick up the new definition.
		active, err := x.manager.IsActive(ctx, name)
		if err != nil {
			return fail("is-active", err)
		}
		restart = active
	}
	if restart {
		if err := x.manager.Restart(ctx, name); err != nil {
			return fail("restart", err)
		}
	}

	return nil
}

// uninstall stops, disables and deletes a managed unit, then reloads.
func (x *Executor) uninstall(ctx context.Context, action Action) error {
	name := action.Name
	fail := func(step string, err error) error {
		return &ApplyError{Action: action, Step: step, Err: err}
	}

	// Disable runs for static units too; it still clears symlinks left by an
	// earlier enable.
	exists := false
	_, err := x.manager.ReadUnitFile(ctx, name)
	switch {
	case err == nil:
		exists = true
	case errors.Is(err, fs.ErrNotExist):
		x.logger.Warn("managed unit file already gone", "unit", name)
	default:
		return fail("read unit file", err)
	}

	active, err := x.manager.IsActive(ctx, name)
	if err != nil {
		return fail("is-active", err)
	}
	if active {
		if err := x.manager.Stop(ctx, name); err != nil {
			return fail("stop", err)
		}
	}

	if exists {
		if err := x.manager.Disable(ctx, name); err != nil {
			return fail("disable", err)
		}
	}

	if err := x.manager.RemoveUnitFile(ctx, name); err != nil {
		return fail("remove unit file", err)
	}
	if err := x.manager.DaemonReload(ctx); err != nil {
		return fail("daemon-reload", err)
	}

	return nil
}
