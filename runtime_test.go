package psychics

import (
	"testing"

	"github.com/df-mc/dragonfly/server/item"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func tickTo(t *testing.T, rt *Runtime, to int64) {
	t.Helper()
	for tick := rt.Tick() + 1; tick <= to; tick++ {
		require.NoError(t, rt.OnTick(tick))
	}
}

func TestNewRuntime(t *testing.T) {
	rt, err := NewRuntime(newOwner("tester"), buildConcept(t, "tester", testConcept), 7)
	require.NoError(t, err)

	assert.True(t, rt.Valid())
	assert.False(t, rt.Enabled())
	assert.Equal(t, int64(7), rt.Tick())
	assert.Zero(t, rt.Mana())
	assert.Equal(t, 100.0, rt.MaxMana())
	assert.Equal(t, "tester", rt.Owner().Name())

	var names []string
	for _, a := range rt.Abilities() {
		names = append(names, a.Name())
		assert.False(t, a.Enabled())
		assert.Same(t, rt, a.Runtime())
	}
	assert.Equal(t, []string{"bolt", "beam", "ray", "aura"}, names)

	_, bolt := ability(t, rt, "bolt")
	assert.Equal(t, 1, bolt.initialized)
	assert.Equal(t, 1, bolt.registered)
	assert.Zero(t, bolt.enabled)

	_, ok := rt.Ability("missing")
	assert.False(t, ok)
}

func TestNewRuntime_FreshBehaviors(t *testing.T) {
	concept := buildConcept(t, "tester", testConcept)
	a, err := NewRuntime(newOwner("a"), concept, 0)
	require.NoError(t, err)
	b, err := NewRuntime(newOwner("b"), concept, 0)
	require.NoError(t, err)

	boltA, _ := a.Ability("bolt")
	boltB, _ := b.Ability("bolt")
	assert.NotSame(t, boltA.Behavior(), boltB.Behavior())
	assert.Same(t, boltA.Spec(), boltB.Spec(), "specs are shared by the concept")
}

func TestNewRuntime_BrokenEntryPoint(t *testing.T) {
	broken := NewEntryPoint(newBoltSpec, func() any { return nil })
	idx := newModuleIndex(map[string]*Module{
		"test.broken": NewModule("", Description{ID: "test.broken"}, nil, broken),
	})
	c, _, err := BuildConcept("x", parseSection(t, "abilities:\n  a:\n    ability: test.broken\n"), idx)
	require.NoError(t, err)

	_, err = NewRuntime(newOwner("tester"), c, 0)
	assert.Error(t, err)
}

func TestAbility_InsufficientMana(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.SetMana(5))
	bolt, b := ability(t, rt, "bolt")

	assert.False(t, bolt.Test())
	cast, err := bolt.TryCast()
	require.NoError(t, err)
	assert.False(t, cast)

	assert.Equal(t, 5.0, rt.Mana())
	assert.Zero(t, bolt.Cooldown())
	assert.Empty(t, b.casts)
}

func TestAbility_InstantCast(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.SetMana(50))
	bolt, b := ability(t, rt, "bolt")

	cast, err := bolt.TryCast()
	require.NoError(t, err)
	assert.True(t, cast)
	assert.Equal(t, 40.0, rt.Mana())
	assert.Equal(t, int64(20), bolt.Cooldown())
	require.Len(t, b.casts, 1)
	assert.Nil(t, b.casts[0])

	cast, err = bolt.TryCast()
	require.NoError(t, err)
	assert.False(t, cast, "on cooldown")

	tickTo(t, rt, 5)
	assert.Equal(t, int64(15), bolt.Cooldown())

	tickTo(t, rt, 20)
	assert.Zero(t, bolt.Cooldown())
	cast, err = bolt.TryCast()
	require.NoError(t, err)
	assert.True(t, cast)
	assert.Len(t, b.casts, 2)
}

func TestAbility_SetCooldownLastWriteWins(t *testing.T) {
	rt := newTestRuntime(t, 0)
	bolt, _ := ability(t, rt, "bolt")

	require.NoError(t, bolt.SetCooldown(100))
	assert.Equal(t, int64(100), bolt.Cooldown())
	require.NoError(t, bolt.SetCooldown(10))
	assert.Equal(t, int64(10), bolt.Cooldown())
	require.NoError(t, bolt.SetCooldown(-5))
	assert.Zero(t, bolt.Cooldown())
}

func TestAbility_CooldownNeverIncreases(t *testing.T) {
	tests := []struct {
		name     string
		cooldown int64
		ticks    []int64
		want     []int64
	}{
		{"counts down", 10, []int64{1, 4, 9, 10, 15}, []int64{9, 6, 1, 0, 0}},
		{"tick skips", 20, []int64{7, 19, 40}, []int64{13, 1, 0}},
		{"zero", 0, []int64{1, 2}, []int64{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime(t, 0)
			bolt, _ := ability(t, rt, "bolt")
			require.NoError(t, bolt.SetCooldown(tt.cooldown))

			last := bolt.Cooldown()
			for i, tick := range tt.ticks {
				require.NoError(t, rt.OnTick(tick))
				got := bolt.Cooldown()
				assert.Equal(t, tt.want[i], got, "tick %d", tick)
				assert.LessOrEqual(t, got, last, "tick %d", tick)
				last = got
			}

			require.NoError(t, rt.OnTick(tt.ticks[0]))
			assert.Equal(t, last, bolt.Cooldown(), "an older tick does not rewind the cooldown")
		})
	}
}

func TestAbility_NotCastable(t *testing.T) {
	rt := newTestRuntime(t, 0)
	aura, ok := rt.Ability("aura")
	require.True(t, ok)

	assert.False(t, aura.Castable())
	_, err := aura.TryCast()
	assert.ErrorIs(t, err, ErrNotCastable)
	assert.Equal(t, 1, aura.Behavior().(*auraBehavior).enabled)
}

func TestAbility_DisabledCannotCast(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.SetMana(100))
	require.NoError(t, rt.SetEnabled(false))
	bolt, b := ability(t, rt, "bolt")

	cast, err := bolt.TryCast()
	require.NoError(t, err)
	assert.False(t, cast)
	assert.Empty(t, b.casts)
}

func TestAbility_ArgsSupplier(t *testing.T) {
	log, logs := observedLogger(zapcore.ErrorLevel)
	rt := newTestRuntime(t, 0, WithLogger(log))
	require.NoError(t, rt.SetMana(100))
	bolt, b := ability(t, rt, "bolt")

	t.Run("nil cancels", func(t *testing.T) {
		bolt.SetArgsSupplier(func(*Ability) []any { return nil })
		cast, err := bolt.TryCast()
		require.NoError(t, err)
		assert.False(t, cast)
		assert.Equal(t, 100.0, rt.Mana())
		assert.Zero(t, bolt.Cooldown())
	})

	t.Run("panic cancels", func(t *testing.T) {
		bolt.SetArgsSupplier(func(*Ability) []any { panic("no target") })
		cast, err := bolt.TryCast()
		require.NoError(t, err)
		assert.False(t, cast)
		assert.Equal(t, 100.0, rt.Mana())
		assert.Equal(t, 1, logs.FilterMessage("psychics: hook failed").Len())
	})

	t.Run("state is checked again", func(t *testing.T) {
		bolt.SetArgsSupplier(func(a *Ability) []any {
			_ = a.Runtime().SetMana(0)
			return []any{"target"}
		})
		cast, err := bolt.TryCast()
		require.NoError(t, err)
		assert.False(t, cast)
		assert.Zero(t, rt.Mana())
		require.NoError(t, rt.SetMana(100))
	})

	t.Run("args reach the hook", func(t *testing.T) {
		bolt.SetArgsSupplier(func(*Ability) []any { return []any{"target", 3} })
		cast, err := bolt.TryCast()
		require.NoError(t, err)
		assert.True(t, cast)
		require.Len(t, b.casts, 1)
		assert.Equal(t, []any{"target", 3}, b.casts[0])
	})
}

func TestAbility_CastHookFailureKeepsCommit(t *testing.T) {
	log, logs := observedLogger(zapcore.ErrorLevel)
	rt := newTestRuntime(t, 0, WithLogger(log))
	require.NoError(t, rt.SetMana(100))
	bolt, b := ability(t, rt, "bolt")
	b.onCast = func(*Ability, []any) { panic("kaboom") }

	cast, err := bolt.TryCast()
	require.NoError(t, err)
	assert.True(t, cast)
	assert.Equal(t, 90.0, rt.Mana())
	assert.Equal(t, int64(20), bolt.Cooldown())

	entries := logs.FilterMessage("psychics: hook failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "cast", entries[0].ContextMap()["hook"])
	assert.Equal(t, "bolt", entries[0].ContextMap()["name"])
}

func TestAbility_CastHookCanUseRuntime(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.SetMana(100))
	bolt, b := ability(t, rt, "bolt")

	followUps := 0
	b.onCast = func(a *Ability, _ []any) {
		_, err := a.Runtime().ScheduleOnce(2, func() error {
			followUps++
			return nil
		})
		require.NoError(t, err)
	}

	_, err := bolt.TryCast()
	require.NoError(t, err)
	tickTo(t, rt, 1)
	assert.Zero(t, followUps)
	tickTo(t, rt, 2)
	assert.Equal(t, 1, followUps)
}

func TestChannel_FiresOnceAtFireTick(t *testing.T) {
	rt := newTestRuntime(t, 100)
	require.NoError(t, rt.SetMana(100))
	beam, b := ability(t, rt, "beam")

	cast, err := beam.TryCast()
	require.NoError(t, err)
	require.True(t, cast)
	assert.Equal(t, 95.0, rt.Mana(), "cost is paid when the channel starts")

	c := rt.ActiveChannel()
	require.NotNil(t, c)
	assert.Same(t, beam, c.Ability())
	assert.Same(t, c, beam.Channel())
	assert.Equal(t, int64(100), c.StartTick())
	assert.Equal(t, int64(105), c.FireTick())
	assert.Equal(t, int64(5), c.Duration())
	assert.False(t, beam.Test(), "a channeling ability cannot be cast again")

	tickTo(t, rt, 104)
	assert.Empty(t, b.casts)
	progress, ok := rt.ChannelProgress()
	require.True(t, ok)
	assert.InDelta(t, 0.8, progress, 1e-9)
	assert.Equal(t, int64(1), c.Remaining(rt.Tick()))

	tickTo(t, rt, 105)
	assert.Len(t, b.casts, 1)
	assert.Nil(t, rt.ActiveChannel())
	assert.Nil(t, beam.Channel())
	assert.False(t, c.Valid())

	tickTo(t, rt, 110)
	assert.Len(t, b.casts, 1)
	assert.Empty(t, b.interrupts)
}

func TestChannel_InterruptedNeverFires(t *testing.T) {
	rt := newTestRuntime(t, 100)
	require.NoError(t, rt.SetMana(50))
	beam, b := ability(t, rt, "beam")

	beam.SetArgsSupplier(func(*Ability) []any { return []any{"foe"} })
	_, err := beam.TryCast()
	require.NoError(t, err)
	tickTo(t, rt, 102)

	interrupted, err := rt.InterruptChannel()
	require.NoError(t, err)
	assert.True(t, interrupted)
	require.Len(t, b.interrupts, 1)
	assert.Equal(t, []any{"foe"}, b.interrupts[0])
	assert.Nil(t, rt.ActiveChannel())
	assert.Nil(t, beam.Channel())

	tickTo(t, rt, 110)
	assert.Empty(t, b.casts)

	interrupted, err = rt.InterruptChannel()
	require.NoError(t, err)
	assert.False(t, interrupted)
}

func TestChannel_InterruptKeepsCost(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.SetMana(50))
	beam, _ := ability(t, rt, "beam")

	_, err := beam.TryCast()
	require.NoError(t, err)
	_, err = rt.InterruptChannel()
	require.NoError(t, err)
	assert.Equal(t, 45.0, rt.Mana())
}

func TestChannel_OneActivePerRuntime(t *testing.T) {
	rt := newTestRuntime(t, 100)
	require.NoError(t, rt.SetMana(100))
	beam, beamB := ability(t, rt, "beam")
	ray, rayB := ability(t, rt, "ray")

	_, err := beam.TryCast()
	require.NoError(t, err)
	first := rt.ActiveChannel()
	tickTo(t, rt, 101)

	cast, err := ray.TryCast()
	require.NoError(t, err)
	require.True(t, cast)

	assert.Same(t, ray, rt.ActiveChannel().Ability())
	assert.False(t, first.Valid())
	assert.Nil(t, beam.Channel())
	assert.Len(t, beamB.interrupts, 1)

	tickTo(t, rt, 120)
	assert.Empty(t, beamB.casts)
	assert.Len(t, rayB.casts, 1)
}

func TestChannel_InterruptHookStartsChannel(t *testing.T) {
	concept := buildConcept(t, "lancer", `
mana: 100
abilities:
  beam:
    ability: test.beam
    channel-duration: 5
  ray:
    ability: .beam
    channel-duration: 8
  lance:
    ability: test.bolt
    cost: 5
    cooldown: 10
    channel-duration: 3
`)
	rt, err := NewRuntime(newOwner("lancer"), concept, 0)
	require.NoError(t, err)
	require.NoError(t, rt.SetEnabled(true))
	require.NoError(t, rt.SetMana(100))

	beam, beamB := ability(t, rt, "beam")
	ray, rayB := ability(t, rt, "ray")
	lance, lanceB := ability(t, rt, "lance")

	beamB.onInterrupt = func(*Ability, []any) {
		cast, err := lance.TryCast()
		require.NoError(t, err)
		require.True(t, cast)
	}
	_, err = beam.TryCast()
	require.NoError(t, err)

	cast, err := ray.TryCast()
	require.NoError(t, err)
	require.True(t, cast)

	assert.Same(t, ray, rt.ActiveChannel().Ability())
	assert.Nil(t, beam.Channel())
	assert.Nil(t, lance.Channel(), "the channel started by the hook is displaced too")
	assert.Len(t, beamB.interrupts, 1)
	assert.Len(t, lanceB.interrupts, 1)
	assert.Equal(t, 95.0, rt.Mana())

	tickTo(t, rt, 10)
	assert.Empty(t, lanceB.casts)
	assert.Len(t, rayB.casts, 1)

	cast, err = lance.TryCast()
	require.NoError(t, err)
	assert.True(t, cast)
}

func TestChannel_TryInterruptHonorsFlag(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.SetMana(100))
	beam, _ := ability(t, rt, "beam")
	ray, _ := ability(t, rt, "ray")

	_, err := ray.TryCast()
	require.NoError(t, err)
	interrupted, err := rt.TryInterruptChannel()
	require.NoError(t, err)
	assert.False(t, interrupted)
	assert.NotNil(t, rt.ActiveChannel())

	_, err = rt.InterruptChannel()
	require.NoError(t, err)

	_, err = beam.TryCast()
	require.NoError(t, err)
	interrupted, err = rt.TryInterruptChannel()
	require.NoError(t, err)
	assert.True(t, interrupted)
	assert.Nil(t, rt.ActiveChannel())
}

func TestRuntime_Regeneration(t *testing.T) {
	rt := newTestRuntime(t, 0)

	tickTo(t, rt, 10)
	assert.InDelta(t, 10.0, rt.Mana(), 1e-9)

	require.NoError(t, rt.OnTick(200))
	assert.Equal(t, 100.0, rt.Mana(), "capped at the pool size")

	require.NoError(t, rt.OnTick(300))
	require.NoError(t, rt.SetMana(0))
	require.NoError(t, rt.OnTick(301))
	assert.InDelta(t, 1.0, rt.Mana(), 1e-9, "time spent full does not bank regeneration")
}

func TestRuntime_TickNeverGoesBack(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.OnTick(5))
	require.NoError(t, rt.OnTick(3))
	assert.Equal(t, int64(5), rt.Tick())
}

func TestRuntime_SetManaClamps(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.SetMana(500))
	assert.Equal(t, 100.0, rt.Mana())
	require.NoError(t, rt.SetMana(-1))
	assert.Zero(t, rt.Mana())
}

func TestRuntime_SetEnabledIsEdgeTriggered(t *testing.T) {
	log, logs := observedLogger(zapcore.ErrorLevel)
	rt := newTestRuntime(t, 0, WithLogger(log))
	_, bolt := ability(t, rt, "bolt")
	_, beam := ability(t, rt, "beam")

	require.NoError(t, rt.SetEnabled(true))
	assert.Equal(t, 1, bolt.enabled)

	require.NoError(t, rt.SetEnabled(false))
	require.NoError(t, rt.SetEnabled(false))
	assert.Equal(t, 1, bolt.disabled)

	bolt.enableErr = assert.AnError
	require.NoError(t, rt.SetEnabled(true))
	assert.Equal(t, 2, bolt.enabled)
	assert.Equal(t, 2, beam.enabled, "a failing hook does not stop the others")
	assert.Equal(t, 1, logs.Len())
}

func TestRuntime_Unregister(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.SetMana(100))
	beam, beamB := ability(t, rt, "beam")
	_, boltB := ability(t, rt, "bolt")

	ran := false
	_, err := rt.ScheduleOnce(1, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)

	hooks := &recordKinematic{}
	require.NoError(t, rt.Launch(NewProjectile(10, hooks), Location{}, mgl64.Vec3{1, 0, 0}))

	_, err = beam.TryCast()
	require.NoError(t, err)
	c := rt.ActiveChannel()

	require.NoError(t, rt.Unregister())
	assert.False(t, rt.Valid())
	assert.False(t, rt.Enabled())
	assert.Equal(t, 1, boltB.disabled)
	assert.Equal(t, 1, hooks.destroyed)
	assert.Nil(t, rt.ActiveChannel())
	assert.False(t, c.Valid())
	assert.Empty(t, beamB.interrupts, "dropped channels are not interrupted")

	assert.ErrorIs(t, rt.OnTick(10), ErrInvalidState)
	assert.False(t, ran)
	assert.Empty(t, beamB.casts)

	_, err = beam.TryCast()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, beam.SetCooldown(1), ErrInvalidState)
	assert.ErrorIs(t, rt.SetMana(1), ErrInvalidState)
	assert.ErrorIs(t, rt.SetEnabled(true), ErrInvalidState)
	assert.ErrorIs(t, rt.Launch(NewProjectile(1, nil), Location{}, mgl64.Vec3{}), ErrInvalidState)
	_, err = rt.ScheduleOnce(1, func() error { return nil })
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = rt.InterruptChannel()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, rt.Unregister(), ErrInvalidState)
}

func TestRuntime_UnregisterFromTask(t *testing.T) {
	rt := newTestRuntime(t, 0)

	runs := 0
	h, err := rt.ScheduleRepeating(1, 1, func() error {
		runs++
		return rt.Unregister()
	})
	require.NoError(t, err)

	require.NoError(t, rt.OnTick(1))
	assert.False(t, rt.Valid())
	assert.True(t, h.Cancelled())
	assert.Zero(t, rt.scheduler.Len())
	assert.Equal(t, 1, runs)
}

func TestRuntime_Schedule(t *testing.T) {
	rt := newTestRuntime(t, 0)

	var ticks []int64
	_, err := rt.ScheduleRepeating(1, 2, func() error {
		ticks = append(ticks, rt.Tick())
		return nil
	})
	require.NoError(t, err)

	_, err = rt.ScheduleRepeating(1, 0, func() error { return nil })
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	tickTo(t, rt, 6)
	assert.Equal(t, []int64{1, 3, 5}, ticks)
}

func TestRuntime_Launch(t *testing.T) {
	rt := newTestRuntime(t, 0)
	p := NewProjectile(2, nil)

	require.NoError(t, rt.Launch(p, Location{}, mgl64.Vec3{0, 1, 0}))
	assert.Same(t, rt, p.Shooter())
	assert.Len(t, rt.Projectiles(), 1)

	tickTo(t, rt, 1)
	assert.Equal(t, 1, p.Ticks())
	tickTo(t, rt, 2)
	assert.Empty(t, rt.Projectiles())
}

func TestRuntime_CastByItem(t *testing.T) {
	rt := newTestRuntime(t, 0)
	require.NoError(t, rt.SetMana(100))
	_, b := ability(t, rt, "bolt")

	stick := item.NewStack(item.Stick{}, 1)
	a, ok := rt.FindAbilityByActivationItem(stick)
	require.True(t, ok)
	assert.Equal(t, "bolt", a.Name())

	cast, err := rt.CastByItem(stick)
	require.NoError(t, err)
	assert.True(t, cast)
	assert.Len(t, b.casts, 1)

	cast, err = rt.CastByItem(item.NewStack(item.Apple{}, 1))
	require.NoError(t, err)
	assert.False(t, cast)
}

type recordingObserver struct {
	NopObserver
	mana     []float64
	started  int
	progress []float64
	ended    []bool
}

func (o *recordingObserver) ManaChanged(_ *Runtime, mana, _ float64) {
	o.mana = append(o.mana, mana)
}

func (o *recordingObserver) ChannelStarted(*Runtime, *Channel) {
	o.started++
}

func (o *recordingObserver) ChannelProgress(_ *Runtime, _ *Channel, progress float64) {
	o.progress = append(o.progress, progress)
}

func (o *recordingObserver) ChannelEnded(_ *Runtime, _ *Channel, completed bool) {
	o.ended = append(o.ended, completed)
}

func TestRuntime_Observer(t *testing.T) {
	obs := &recordingObserver{}
	rt := newTestRuntime(t, 0, WithObserver(obs))
	require.NoError(t, rt.SetMana(50))
	tickTo(t, rt, 1)
	require.Equal(t, []float64{51}, obs.mana)

	beam, _ := ability(t, rt, "beam")
	_, err := beam.TryCast()
	require.NoError(t, err)
	assert.Equal(t, 1, obs.started)

	tickTo(t, rt, 6)
	assert.InDeltaSlice(t, []float64{0.2, 0.4, 0.6, 0.8}, obs.progress, 1e-9)
	assert.Equal(t, []bool{true}, obs.ended)
	assert.Equal(t, rt.Mana(), obs.mana[len(obs.mana)-1])

	_, err = beam.TryCast()
	require.NoError(t, err)
	_, err = rt.InterruptChannel()
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, obs.ended)
}

type panickyObserver struct{ NopObserver }

func (panickyObserver) ManaChanged(*Runtime, float64, float64) { panic("render") }

func TestRuntime_ObserverPanicContained(t *testing.T) {
	rt := newTestRuntime(t, 0, WithObserver(panickyObserver{}))
	require.NoError(t, rt.SetMana(10))
	require.NoError(t, rt.OnTick(1))
	require.NoError(t, rt.OnTick(2))
	assert.InDelta(t, 12.0, rt.Mana(), 1e-9)
}

func TestRuntime_Do(t *testing.T) {
	rt := newTestRuntime(t, 0)
	rt.Do(func(r *Runtime) {
		require.NoError(t, r.SetMana(3))
	})
	assert.Equal(t, 3.0, rt.Mana())
}
