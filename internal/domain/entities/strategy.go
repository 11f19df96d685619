package entities

// UpdateStrategy is the (hot, liveReload) pair a server runs with
type UpdateStrategy struct {
	Hot        bool `json:"hot"`
	LiveReload bool `json:"liveReload"`
}

// Trigger is the kind of change a client reacts to
type Trigger string

const (
	TriggerBuildWithChanges Trigger = "build-success-with-changes"
	TriggerBuildNoChanges   Trigger = "build-success-no-changes"
	TriggerStaticChanged    Trigger = "static-file-changed"
)

// Action is what a client does in response to a trigger
type Action string

const (
	ActionHotUpdate  Action = "hot-update"
	ActionFullReload Action = "full-reload"
	ActionLogOnly    Action = "log-only"
	ActionNone       Action = "no-action"
)

// Decide maps a strategy and trigger to the client action.
//
//	hot   live  | changed modules | static file
//	true  true  | hot-update      | full-reload
//	true  false | hot-update      | log-only
//	false true  | full-reload     | full-reload
//	false false | log-only        | log-only
//
// A build without changes is always log-only so no-op rebuilds never reload.
// Builds with errors never get here; callers record ActionNone for them.
func Decide(s UpdateStrategy, trigger Trigger) Action {
	switch trigger {
	case TriggerBuildNoChanges:
		return ActionLogOnly
	case TriggerBuildWithChanges:
		switch {
		case s.Hot:
			return ActionHotUpdate
		case s.LiveReload:
			return ActionFullReload
		default:
			return ActionLogOnly
		}
	case TriggerStaticChanged:
		if s.LiveReload {
			return ActionFullReload
		}
		return ActionLogOnly
	default:
		return ActionNone
	}
}

// FallbackToReload reports whether a rejected hot update turns into a full reload
func (s UpdateStrategy) FallbackToReload() bool {
	return s.Hot && s.LiveReload
}
