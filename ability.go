package psychics

import (
	"fmt"
)

// Capability interfaces an ability behavior may implement. The behavior is
// the value returned by its module's EntryPoint.NewBehavior; it is created
// once per runtime and receives the Ability it belongs to on every call.
type (
	// Castable behaviors can be cast. OnCast runs when the cast completes:
	// immediately for instant casts, or when the channel fires.
	Castable interface {
		OnCast(a *Ability, args []any) error
	}

	// Channelable behaviors are told when a pending channel is interrupted.
	Channelable interface {
		OnInterrupt(a *Ability, args []any) error
	}

	// Initializer behaviors run once when the runtime creates the ability.
	Initializer interface {
		OnInitialize(a *Ability) error
	}

	// Registrar behaviors run once when the runtime is registered to its owner.
	Registrar interface {
		OnRegister(a *Ability) error
	}

	// Toggler behaviors follow the runtime's enabled state.
	Toggler interface {
		OnEnable(a *Ability) error
		OnDisable(a *Ability) error
	}
)

// ArgsSupplier produces the cast arguments right before a cast commits.
// Returning nil cancels the cast without side effects, for example when no
// valid target is in range.
type ArgsSupplier func(a *Ability) []any

// Ability is one instance of an ability spec owned by a runtime. It carries
// the mutable cast state: cooldown deadline, enabled flag and pending channel.
type Ability struct {
	spec     Spec
	base     *AbilitySpec
	runtime  *Runtime
	behavior any

	cooldownDeadline int64
	enabled          bool
	channel          *Channel
	args             ArgsSupplier
}

// Name returns the ability's local name within its concept.
func (a *Ability) Name() string {
	return a.base.name
}

// Spec returns the bound spec. Type assert it to the module's spec type.
func (a *Ability) Spec() Spec {
	return a.spec
}

// AbilitySpec returns the common tunables of the spec.
func (a *Ability) AbilitySpec() *AbilitySpec {
	return a.base
}

// Runtime returns the owning runtime.
func (a *Ability) Runtime() *Runtime {
	return a.runtime
}

// Behavior returns the module provided behavior value.
func (a *Ability) Behavior() any {
	return a.behavior
}

// Enabled reports whether the ability is enabled.
func (a *Ability) Enabled() bool {
	return a.enabled
}

// Castable reports whether the behavior can be cast at all.
func (a *Ability) Castable() bool {
	_, ok := a.behavior.(Castable)
	return ok
}

// Channel returns the pending channel of this ability, or nil.
func (a *Ability) Channel() *Channel {
	return a.channel
}

// Cooldown returns the remaining cooldown in ticks, never negative.
func (a *Ability) Cooldown() int64 {
	return max(a.cooldownDeadline-a.runtime.tick, 0)
}

// SetCooldown sets the cooldown to ticks from the current tick. The previous
// deadline is overwritten, even when it was further away.
func (a *Ability) SetCooldown(ticks int64) error {
	if !a.runtime.valid {
		return ErrInvalidState
	}
	a.cooldownDeadline = a.runtime.tick + max(ticks, 0)
	return nil
}

// SetArgsSupplier installs the argument supplier consulted by TryCast.
func (a *Ability) SetArgsSupplier(fn ArgsSupplier) {
	a.args = fn
}

// Test reports whether the ability could be cast right now: it is enabled,
// off cooldown, affordable and, for castable behaviors, not already channeling.
func (a *Ability) Test() bool {
	r := a.runtime
	if !r.valid || !a.enabled {
		return false
	}
	if a.Cooldown() != 0 || r.mana < a.base.Cost {
		return false
	}
	if a.Castable() && a.channel != nil {
		return false
	}
	return true
}

// TryCast casts the ability if Test passes. The mana cost and cooldown are
// committed before the cast hook runs or the channel starts, so they stay
// applied if the hook fails or the channel is later interrupted.
//
// It returns false with a nil error when the ability is not ready or the
// argument supplier cancelled the cast, ErrInvalidState when the runtime is
// unregistered and ErrNotCastable when the behavior cannot be cast.
func (a *Ability) TryCast() (bool, error) {
	r := a.runtime
	if !r.valid {
		return false, ErrInvalidState
	}
	castable, ok := a.behavior.(Castable)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotCastable, a.Name())
	}
	if !a.Test() {
		return false, nil
	}

	var args []any
	if a.args != nil {
		var supplied []any
		err := runHook(r.log, HookArgs, a.Name(), func() error {
			supplied = a.args(a)
			return nil
		})
		if err != nil || supplied == nil {
			return false, nil
		}
		// The supplier may have changed state.
		if !r.valid {
			return false, ErrInvalidState
		}
		if !a.Test() {
			return false, nil
		}
		args = supplied
	}

	r.mana = max(r.mana-a.base.Cost, 0)
	a.cooldownDeadline = r.tick + int64(a.base.Cooldown)

	if a.base.ChannelDuration <= 0 {
		_ = runHook(r.log, HookCast, a.Name(), func() error {
			return castable.OnCast(a, args)
		})
		return true, nil
	}

	r.startChannel(a, args)
	return true, nil
}

// fire completes the cast of a channel that reached its fire tick.
func (a *Ability) fire(c *Channel) {
	if a.channel == c {
		a.channel = nil
	}
	if !c.valid {
		return
	}
	c.valid = false

	r := a.runtime
	r.observe(func(o Observer) { o.ChannelEnded(r, c, true) })

	castable, ok := a.behavior.(Castable)
	if !ok {
		return
	}
	_ = runHook(r.log, HookCast, a.Name(), func() error {
		return castable.OnCast(a, c.args)
	})
}

// interrupt cancels a pending channel and runs the interrupt hook.
func (a *Ability) interrupt(c *Channel) {
	if a.channel == c {
		a.channel = nil
	}
	if !c.valid {
		return
	}
	c.valid = false

	r := a.runtime
	r.observe(func(o Observer) { o.ChannelEnded(r, c, false) })

	ch, ok := a.behavior.(Channelable)
	if !ok {
		return
	}
	_ = runHook(r.log, HookInterrupt, a.Name(), func() error {
		return ch.OnInterrupt(a, c.args)
	})
}

// setEnabled runs the toggle hook if the state changes.
func (a *Ability) setEnabled(enabled bool) {
	if a.enabled == enabled {
		return
	}
	a.enabled = enabled

	t, ok := a.behavior.(Toggler)
	if !ok {
		return
	}
	if enabled {
		_ = runHook(a.runtime.log, HookEnable, a.Name(), func() error { return t.OnEnable(a) })
	} else {
		_ = runHook(a.runtime.log, HookDisable, a.Name(), func() error { return t.OnDisable(a) })
	}
}

// String returns a string representation of the ability.
func (a *Ability) String() string {
	return fmt.Sprintf("Ability{name=%s, type=%s}", a.Name(), a.base.Type)
}
