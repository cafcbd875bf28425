package psychics

import (
	"fmt"

	"go.uber.org/zap"
)

// HookKind identifies the user supplied callback being run.
// It is attached to every HookFailure and hook log line.
type HookKind int

const (
	// HookInitialize runs once when the ability instance is created.
	HookInitialize HookKind = iota

	// HookRegister runs when the owning runtime is registered.
	HookRegister

	// HookEnable and HookDisable run on runtime enable transitions.
	HookEnable
	HookDisable

	// HookCast runs when a cast completes, instantly or after a channel.
	HookCast

	// HookInterrupt runs when a pending channel is interrupted.
	HookInterrupt

	// HookArgs runs the argument supplier right before a cast commits.
	HookArgs

	// HookTask runs a scheduled or repeating task.
	HookTask

	// Projectile hooks.
	HookPreUpdate
	HookPostUpdate
	HookProbe
	HookDestroy

	// HookObserve runs an Observer callback.
	HookObserve
)

// String returns the string representation of the hook kind.
func (k HookKind) String() string {
	switch k {
	case HookInitialize:
		return "initialize"
	case HookRegister:
		return "register"
	case HookEnable:
		return "enable"
	case HookDisable:
		return "disable"
	case HookCast:
		return "cast"
	case HookInterrupt:
		return "interrupt"
	case HookArgs:
		return "args"
	case HookTask:
		return "task"
	case HookPreUpdate:
		return "pre-update"
	case HookPostUpdate:
		return "post-update"
	case HookProbe:
		return "probe"
	case HookDestroy:
		return "destroy"
	case HookObserve:
		return "observe"
	default:
		return "unknown"
	}
}

// runHook executes fn, recovering panics, and logs any failure.
// The returned error is nil or a *HookFailure. Callers never propagate it
// past the current tick step.
func runHook(log *zap.Logger, kind HookKind, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookFailure{Kind: kind, Name: name, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			log.Error("psychics: hook failed",
				zap.Stringer("hook", kind),
				zap.String("name", name),
				zap.Error(err),
			)
		}
	}()

	if e := fn(); e != nil {
		return &HookFailure{Kind: kind, Name: name, Err: e}
	}
	return nil
}
