package sync

import (
	"fmt"
	"slices"
	"strings"

	"github.com/schaermu/unitsync/internal/render"
	"github.com/schaermu/unitsync/internal/state"
)

// ActionKind identifies what an Action does to a unit
type ActionKind int

const (
	ActionCreate ActionKind = iota + 1
	ActionUpdate
	ActionRemove
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is a single change to one unit. Create and Update carry the
// rendered unit; Remove carries only the name.
type Action struct {
	Kind ActionKind
	Name string
	Unit render.Unit
}

// Create returns an action that installs a new unit
func Create(u render.Unit) Action {
	return Action{Kind: ActionCreate, Name: u.Name, Unit: u}
}

// Update returns an action that replaces a managed unit's content
func Update(u render.Unit) Action {
	return Action{Kind: ActionUpdate, Name: u.Name, Unit: u}
}

// Remove returns an action that uninstalls a managed unit
func Remove(name string) Action {
	return Action{Kind: ActionRemove, Name: name}
}

func (a Action) String() string {
	return a.Kind.String() + " " + a.Name
}

// Plan is the ordered list of actions that brings the managed units in line
// with the desired configuration. All removals come first, then creates and
// updates; each group is sorted by unit name.
type Plan struct {
	Actions []Action
}

// Empty reports whether the plan has nothing to do
func (p *Plan) Empty() bool {
	return len(p.Actions) == 0
}

// Counts returns the number of actions of each kind
func (p *Plan) Counts() (create, update, remove int) {
	for _, a := range p.Actions {
		switch a.Kind {
		case ActionCreate:
			create++
		case ActionUpdate:
			update++
		case ActionRemove:
			remove++
		}
	}
	return create, update, remove
}

// BuildPlan computes the diff between the desired units and the managed
// state. Units present on disk but absent from current are never touched.
// It has no side effects.
func BuildPlan(desired []render.Unit, current state.State) (*Plan, error) {
	removes := make([]Action, 0)
	changes := make([]Action, 0, len(desired))

	wanted := make(map[string]struct{}, len(desired))
	for _, u := range desired {
		if _, dup := wanted[u.Name]; dup {
			return nil, fmt.Errorf("unit %s is desired more than once", u.Name)
		}
		wanted[u.Name] = struct{}{}

		prev, exists := current[u.Name]
		switch {
		case !exists:
			changes = append(changes, Create(u))
		case prev.ContentHash != u.ContentHash:
			changes = append(changes, Update(u))
		}
		// else: unchanged, no action needed
	}

	for name := range current {
		if _, ok := wanted[name]; !ok {
			removes = append(removes, Remove(name))
		}
	}

	byName := func(a, b Action) int { return strings.Compare(a.Name, b.Name) }
	slices.SortFunc(removes, byName)
	slices.SortFunc(changes, byName)

	return &Plan{Actions: append(removes, changes...)}, nil
}
