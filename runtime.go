package psychics

import (
	"fmt"
	"sync"

	"github.com/df-mc/dragonfly/server/item"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTicksPerSecond is the tick rate of a dragonfly server.
const DefaultTicksPerSecond = 20

// Owner is the entity a runtime is bound to. *player.Player satisfies it.
type Owner interface {
	UUID() uuid.UUID
	Name() string
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	log      *zap.Logger
	observer Observer
	tps      int
}

// WithLogger sets the logger used for hook failures.
func WithLogger(log *zap.Logger) RuntimeOption {
	return func(o *runtimeOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver sets the observer notified of mana and channel progress.
func WithObserver(obs Observer) RuntimeOption {
	return func(o *runtimeOptions) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithTicksPerSecond sets the tick rate used to convert the regeneration rate.
func WithTicksPerSecond(tps int) RuntimeOption {
	return func(o *runtimeOptions) {
		if tps > 0 {
			o.tps = tps
		}
	}
}

// Runtime is the live psychic of one owner: an instance of every ability in
// its concept, the mana pool, the single active channel, a tick scheduler and
// the owner's projectiles.
//
// A Runtime is driven by OnTick and is not safe for concurrent use; callers
// outside the tick goroutine serialize through Do. Once unregistered it is
// invalid for good and every mutating call returns ErrInvalidState.
type Runtime struct {
	owner    Owner
	concept  *Concept
	log      *zap.Logger
	observer Observer

	// mu serializes Do callers.
	mu sync.Mutex

	tick    int64
	valid   bool
	enabled bool

	mana          float64
	prevMana      float64
	regenPerTick  float64
	lastRegenTick int64

	abilities   []*Ability
	channel     *Channel
	scheduler   *TickScheduler
	projectiles *ProjectileSet
}

// NewRuntime creates the runtime of owner from concept and registers it at
// tick. Every ability of the concept gets a fresh behavior from its module;
// if any entry point fails the runtime is not created. Initialize and
// register hooks run in binding order and their failures are logged only.
// The runtime starts disabled with an empty mana pool.
func NewRuntime(owner Owner, concept *Concept, tick int64, opts ...RuntimeOption) (*Runtime, error) {
	if owner == nil || concept == nil {
		return nil, fmt.Errorf("psychics: runtime needs an owner and a concept")
	}

	o := runtimeOptions{
		log:      zap.NewNop(),
		observer: NopObserver{},
		tps:      DefaultTicksPerSecond,
	}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log.With(
		zap.String("owner", owner.Name()),
		zap.Stringer("uuid", owner.UUID()),
		zap.String("psychic", concept.Name()),
	)

	r := &Runtime{
		owner:         owner,
		concept:       concept,
		log:           log,
		observer:      o.observer,
		tick:          tick,
		regenPerTick:  concept.ManaRegenPerSecond() / float64(o.tps),
		lastRegenTick: tick,
		scheduler:     NewTickScheduler(tick, log),
		projectiles:   NewProjectileSet(log),
	}

	for _, b := range concept.bindings {
		behavior, err := newBehavior(b)
		if err != nil {
			return nil, err
		}
		r.abilities = append(r.abilities, &Ability{
			spec:     b.Spec,
			base:     b.Spec.Base(),
			runtime:  r,
			behavior: behavior,
		})
	}

	for _, a := range r.abilities {
		if i, ok := a.behavior.(Initializer); ok {
			_ = runHook(r.log, HookInitialize, a.Name(), func() error { return i.OnInitialize(a) })
		}
	}

	r.valid = true

	for _, a := range r.abilities {
		if reg, ok := a.behavior.(Registrar); ok {
			_ = runHook(r.log, HookRegister, a.Name(), func() error { return reg.OnRegister(a) })
		}
	}
	return r, nil
}

// newBehavior constructs the behavior of one binding.
func newBehavior(b Binding) (behavior any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			behavior, err = nil, fmt.Errorf("ability %s: panic constructing behavior: %v", b.Name, rec)
		}
	}()

	ep := b.Module.EntryPoint()
	if ep == nil {
		return nil, fmt.Errorf("ability %s: %w", b.Name, ErrEntryPointNotFound)
	}
	behavior = ep.NewBehavior()
	if behavior == nil {
		return nil, fmt.Errorf("ability %s: entry point returned a nil behavior", b.Name)
	}
	return behavior, nil
}

// Owner returns the owner.
func (r *Runtime) Owner() Owner {
	return r.owner
}

// Concept returns the concept the runtime was built from.
func (r *Runtime) Concept() *Concept {
	return r.concept
}

// Logger returns the runtime's logger, scoped to the owner.
func (r *Runtime) Logger() *zap.Logger {
	return r.log
}

// Do runs fn with exclusive access to the runtime.
func (r *Runtime) Do(fn func(r *Runtime)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// Valid reports whether the runtime is still registered.
func (r *Runtime) Valid() bool {
	return r.valid
}

// Enabled reports whether abilities are enabled.
func (r *Runtime) Enabled() bool {
	return r.enabled
}

// Tick returns the last tick the runtime observed.
func (r *Runtime) Tick() int64 {
	return r.tick
}

// Mana returns the current mana.
func (r *Runtime) Mana() float64 {
	return r.mana
}

// MaxMana returns the mana pool size.
func (r *Runtime) MaxMana() float64 {
	return r.concept.manaMax
}

// SetMana sets the current mana, clamped to the pool.
func (r *Runtime) SetMana(mana float64) error {
	if !r.valid {
		return ErrInvalidState
	}
	r.mana = min(max(mana, 0), r.concept.manaMax)
	return nil
}

// Abilities returns the abilities in concept order.
func (r *Runtime) Abilities() []*Ability {
	return append([]*Ability(nil), r.abilities...)
}

// Ability returns the ability with the given local name.
func (r *Runtime) Ability(name string) (*Ability, bool) {
	for _, a := range r.abilities {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// FindAbilityByActivationItem returns the first ability whose wand matches stack.
func (r *Runtime) FindAbilityByActivationItem(stack item.Stack) (*Ability, bool) {
	for _, a := range r.abilities {
		if w := a.base.Wand; w != nil && w.Matches(stack) {
			return a, true
		}
	}
	return nil, false
}

// CastByItem casts the castable ability activated by stack. It returns
// false with a nil error when no castable ability matches.
func (r *Runtime) CastByItem(stack item.Stack) (bool, error) {
	if !r.valid {
		return false, ErrInvalidState
	}
	a, ok := r.FindAbilityByActivationItem(stack)
	if !ok || !a.Castable() {
		return false, nil
	}
	return a.TryCast()
}

// ScheduleOnce runs fn delay ticks from now.
func (r *Runtime) ScheduleOnce(delay int64, fn func() error) (*TaskHandle, error) {
	if !r.valid {
		return nil, ErrInvalidState
	}
	return r.scheduler.Once(delay, fn), nil
}

// ScheduleRepeating runs fn delay ticks from now and then every period ticks.
func (r *Runtime) ScheduleRepeating(delay, period int64, fn func() error) (*TaskHandle, error) {
	if !r.valid {
		return nil, ErrInvalidState
	}
	return r.scheduler.Repeating(delay, period, fn)
}

// Launch fires p from spawn. The projectile is advanced from the next tick on.
func (r *Runtime) Launch(p *Projectile, spawn Location, velocity mgl64.Vec3) error {
	if !r.valid {
		return ErrInvalidState
	}
	if err := r.projectiles.Add(p, spawn, velocity); err != nil {
		return err
	}
	p.shooter = r
	return nil
}

// Projectiles returns the owner's projectiles in flight.
func (r *Runtime) Projectiles() []*Projectile {
	return r.projectiles.Projectiles()
}

// ActiveChannel returns the pending channel, or nil.
func (r *Runtime) ActiveChannel() *Channel {
	return r.channel
}

// ChannelProgress returns the completed fraction of the active channel.
func (r *Runtime) ChannelProgress() (float64, bool) {
	if r.channel == nil {
		return 0, false
	}
	return r.channel.Progress(r.tick), true
}

// InterruptChannel cancels the active channel regardless of the ability's
// interruptible flag and runs its interrupt hook.
func (r *Runtime) InterruptChannel() (bool, error) {
	if !r.valid {
		return false, ErrInvalidState
	}
	c := r.channel
	if c == nil {
		return false, nil
	}
	r.channel = nil
	c.ability.interrupt(c)
	return true, nil
}

// TryInterruptChannel cancels the active channel only if its ability is
// interruptible. It is the entry point for external interrupts such as
// movement or damage.
func (r *Runtime) TryInterruptChannel() (bool, error) {
	if !r.valid {
		return false, ErrInvalidState
	}
	if r.channel == nil || !r.channel.ability.base.Interruptible {
		return false, nil
	}
	return r.InterruptChannel()
}

// SetEnabled enables or disables every ability. It only acts on a change of
// state; individual hook failures do not stop the others.
func (r *Runtime) SetEnabled(enabled bool) error {
	if !r.valid {
		return ErrInvalidState
	}
	if r.enabled == enabled {
		return nil
	}
	r.enabled = enabled
	for _, a := range r.abilities {
		a.setEnabled(enabled)
	}
	return nil
}

// OnTick advances the runtime to tick: mana regeneration, scheduled tasks,
// projectiles, then the channel.
func (r *Runtime) OnTick(tick int64) error {
	if !r.valid {
		return ErrInvalidState
	}
	if tick > r.tick {
		r.tick = tick
	}

	r.regenerate()

	r.scheduler.Run(r.tick)
	if !r.valid {
		return nil
	}

	r.projectiles.Update()
	if !r.valid {
		return nil
	}

	if c := r.channel; c != nil {
		if r.tick >= c.fireTick {
			r.channel = nil
			c.ability.fire(c)
		} else {
			progress := c.Progress(r.tick)
			r.observe(func(o Observer) { o.ChannelProgress(r, c, progress) })
		}
	}
	if !r.valid {
		return nil
	}

	if r.mana != r.prevMana {
		r.prevMana = r.mana
		mana, maxMana := r.mana, r.concept.manaMax
		r.observe(func(o Observer) { o.ManaChanged(r, mana, maxMana) })
	}
	return nil
}

// regenerate applies mana regeneration for the ticks elapsed since the last call.
func (r *Runtime) regenerate() {
	elapsed := r.tick - r.lastRegenTick
	r.lastRegenTick = r.tick

	if r.regenPerTick <= 0 || elapsed <= 0 {
		return
	}
	if maxMana := r.concept.manaMax; r.mana < maxMana {
		r.mana = min(r.mana+r.regenPerTick*float64(elapsed), maxMana)
	}
}

// startChannel installs a new channel for a, displacing and interrupting
// whatever channel was active.
func (r *Runtime) startChannel(a *Ability, args []any) {
	if old := a.channel; old != nil {
		if r.channel == old {
			r.channel = nil
		}
		old.valid = false
		a.channel = nil
	}
	// An interrupt hook may start another channel; it is displaced as well.
	for r.channel != nil {
		prev := r.channel
		r.channel = nil
		prev.ability.interrupt(prev)
	}
	if !r.valid {
		return
	}

	c := &Channel{
		ability:   a,
		startTick: r.tick,
		fireTick:  r.tick + int64(a.base.ChannelDuration),
		args:      args,
		valid:     true,
	}
	a.channel = c
	r.channel = c
	r.observe(func(o Observer) { o.ChannelStarted(r, c) })
}

// Unregister invalidates the runtime: tasks are cancelled, projectiles are
// destroyed and the active channel is dropped without firing. Abilities get
// their disable hook if the runtime was enabled.
func (r *Runtime) Unregister() error {
	if !r.valid {
		return ErrInvalidState
	}
	if r.enabled {
		r.enabled = false
		for _, a := range r.abilities {
			a.setEnabled(false)
		}
	}
	r.valid = false

	r.scheduler.CancelAll()
	r.projectiles.RemoveAll()

	if c := r.channel; c != nil {
		r.channel = nil
		c.valid = false
		c.ability.channel = nil
	}
	for _, a := range r.abilities {
		if a.channel != nil {
			a.channel.valid = false
			a.channel = nil
		}
	}
	return nil
}

// observe runs an observer callback with failure containment.
func (r *Runtime) observe(fn func(o Observer)) {
	_ = runHook(r.log, HookObserve, "observer", func() error {
		fn(r.observer)
		return nil
	})
}

// String returns a string representation of the runtime.
func (r *Runtime) String() string {
	return fmt.Sprintf("Runtime{owner=%s, psychic=%s, valid=%t}", r.owner.Name(), r.concept.Name(), r.valid)
}
