package psychics

import (
	"fmt"

	"github.com/df-mc/dragonfly/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

// DefaultMaxTicks is the lifetime of a projectile created without one.
const DefaultMaxTicks = 200

// Location is a position in a world. Two locations share a coordinate space
// when they are in the same world.
type Location struct {
	World *world.World
	Pos   mgl64.Vec3
}

// Add returns the location moved by v.
func (l Location) Add(v mgl64.Vec3) Location {
	return Location{World: l.World, Pos: l.Pos.Add(v)}
}

// SameSpace reports whether l and other are in the same world.
func (l Location) SameSpace(other Location) bool {
	return l.World == other.World
}

// Hit is the result of a collision probe.
type Hit struct {
	// Position is where the sweep stopped.
	Position mgl64.Vec3
	// Target is what was hit: a world.Entity, a cube.Pos or anything the probe reports.
	Target any
}

// CollisionProbe sweeps from origin along the unit vector dir for at most
// maxDist blocks and returns the first hit, or nil.
type CollisionProbe func(origin Location, dir mgl64.Vec3, maxDist float64) *Hit

// Kinematic receives the update hooks of a projectile.
type Kinematic interface {
	OnPreUpdate(p *Projectile) error
	OnPostUpdate(p *Projectile) error
	OnDestroy(p *Projectile) error
}

// NopKinematic implements Kinematic with no-ops. Embed it to override a subset.
type NopKinematic struct{}

func (NopKinematic) OnPreUpdate(*Projectile) error  { return nil }
func (NopKinematic) OnPostUpdate(*Projectile) error { return nil }
func (NopKinematic) OnDestroy(*Projectile) error    { return nil }

var _ Kinematic = NopKinematic{}

// Projectile is a linear per tick integrator: each update moves it from pos
// to targetPos, then aims targetPos one velocity step further.
type Projectile struct {
	shooter *Runtime
	hooks   Kinematic
	probe   CollisionProbe

	prev     Location
	pos      Location
	target   Location
	velocity mgl64.Vec3

	ticks    int
	maxTicks int
	hit      *Hit

	flying    bool
	valid     bool
	destroyed bool
}

// NewProjectile creates a projectile that lives for at most maxTicks updates.
// A maxTicks below one uses DefaultMaxTicks; hooks may be nil.
func NewProjectile(maxTicks int, hooks Kinematic) *Projectile {
	if maxTicks <= 0 {
		maxTicks = DefaultMaxTicks
	}
	if hooks == nil {
		hooks = NopKinematic{}
	}
	return &Projectile{hooks: hooks, maxTicks: maxTicks, valid: true}
}

// SetProbe installs the collision probe.
func (p *Projectile) SetProbe(probe CollisionProbe) {
	p.probe = probe
}

// Shooter returns the runtime that launched the projectile.
func (p *Projectile) Shooter() *Runtime {
	return p.shooter
}

// PrevPos returns the position before the last update.
func (p *Projectile) PrevPos() Location {
	return p.prev
}

// Pos returns the current position.
func (p *Projectile) Pos() Location {
	return p.pos
}

// TargetPos returns the position the next update moves to.
func (p *Projectile) TargetPos() Location {
	return p.target
}

// Velocity returns the per tick displacement.
func (p *Projectile) Velocity() mgl64.Vec3 {
	return p.velocity
}

// SetVelocity changes the velocity. It takes effect when the next target is
// computed, so a call from OnPreUpdate steers the step after this one.
func (p *Projectile) SetVelocity(v mgl64.Vec3) {
	p.velocity = v
}

// Ticks returns the number of updates the projectile went through.
func (p *Projectile) Ticks() int {
	return p.ticks
}

// MaxTicks returns the lifetime in updates.
func (p *Projectile) MaxTicks() int {
	return p.maxTicks
}

// LastHit returns the probe result that stopped the projectile, or nil.
func (p *Projectile) LastHit() *Hit {
	return p.hit
}

// Flying reports whether the projectile is launched and not yet destroyed.
func (p *Projectile) Flying() bool {
	return p.flying
}

// Valid reports whether the projectile will be updated again.
func (p *Projectile) Valid() bool {
	return p.valid
}

// Remove marks the projectile for removal. It is destroyed at the end of its
// current or next update.
func (p *Projectile) Remove() {
	p.valid = false
}

// update runs one step.
func (p *Projectile) update(log *zap.Logger) {
	_ = runHook(log, HookPreUpdate, "projectile", func() error { return p.hooks.OnPreUpdate(p) })
	if !p.valid {
		return
	}

	p.ticks++

	if p.probe != nil && p.pos.SameSpace(p.target) {
		delta := p.target.Pos.Sub(p.pos.Pos)
		if dist := delta.Len(); dist > 0 {
			var hit *Hit
			_ = runHook(log, HookProbe, "projectile", func() error {
				hit = p.probe(p.pos, delta.Mul(1/dist), dist)
				return nil
			})
			if hit != nil {
				p.hit = hit
				p.target.Pos = hit.Position
				p.valid = false
			}
		}
	}

	p.prev = p.pos
	p.pos = p.target
	p.target = p.pos.Add(p.velocity)

	if p.ticks >= p.maxTicks {
		p.valid = false
	}

	_ = runHook(log, HookPostUpdate, "projectile", func() error { return p.hooks.OnPostUpdate(p) })
}

// destroy runs the destroy hook once.
func (p *Projectile) destroy(log *zap.Logger) {
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.valid = false
	p.flying = false
	_ = runHook(log, HookDestroy, "projectile", func() error { return p.hooks.OnDestroy(p) })
}

// String returns a string representation of the projectile.
func (p *Projectile) String() string {
	return fmt.Sprintf("Projectile{pos=%v, ticks=%d/%d, valid=%t}", p.pos.Pos, p.ticks, p.maxTicks, p.valid)
}

// ProjectileSet owns the in-flight projectiles of one runtime and advances
// them once per tick in launch order.
type ProjectileSet struct {
	items    []*Projectile
	log      *zap.Logger
	updating bool
}

// NewProjectileSet creates an empty set.
func NewProjectileSet(log *zap.Logger) *ProjectileSet {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProjectileSet{log: log}
}

// Add launches p from spawn with the given velocity and starts tracking it.
func (s *ProjectileSet) Add(p *Projectile, spawn Location, velocity mgl64.Vec3) error {
	if p.flying {
		return ErrAlreadyLaunched
	}
	if !p.valid || p.destroyed {
		return ErrInvalidState
	}

	p.prev = spawn
	p.pos = spawn
	p.target = spawn.Add(velocity)
	p.velocity = velocity
	p.flying = true

	s.items = append(s.items, p)
	return nil
}

// Update advances every projectile launched before the call and drops the
// ones that became invalid. Projectiles launched by hooks during the update
// are kept and first advanced on the next call.
func (s *ProjectileSet) Update() {
	s.updating = true
	defer func() { s.updating = false }()

	n := len(s.items)
	w := 0
	for i := 0; i < n; i++ {
		p := s.items[i]
		if p.valid {
			p.update(s.log)
		}
		if !p.valid {
			p.destroy(s.log)
			continue
		}
		s.items[w] = p
		w++
	}

	for i := n; i < len(s.items); i++ {
		p := s.items[i]
		if !p.valid {
			p.destroy(s.log)
			continue
		}
		s.items[w] = p
		w++
	}
	clear(s.items[w:])
	s.items = s.items[:w]
}

// RemoveAll destroys every tracked projectile.
func (s *ProjectileSet) RemoveAll() {
	for _, p := range s.items {
		p.destroy(s.log)
	}
	if s.updating {
		// Update drops them once the traversal ends.
		return
	}
	clear(s.items)
	s.items = s.items[:0]
}

// Len returns the number of tracked projectiles.
func (s *ProjectileSet) Len() int {
	return len(s.items)
}

// Projectiles returns a snapshot of the tracked projectiles.
func (s *ProjectileSet) Projectiles() []*Projectile {
	return append([]*Projectile(nil), s.items...)
}
