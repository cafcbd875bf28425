// Package psychics provides player-bound abilities for Dragonfly servers.
//
// Psychics is a runtime layer on top of Dragonfly that provides:
//   - Versioned ability modules discovered from bundle archives
//   - Psychic concepts: YAML templates binding abilities and a mana pool
//   - A per player runtime with cooldowns, mana and channeled casts
//   - Tick-counted task scheduling and projectile kinematics
//   - Wand items that cast abilities on use
//
// # Quick Start
//
// Register ability entry points from init functions, then build a manager:
//
//	psychics.Register("example.Fireball", psychics.NewEntryPoint(
//	    func() *FireballSpec { return &FireballSpec{AbilitySpec: psychics.DefaultAbilitySpec()} },
//	    func() any { return &Fireball{} },
//	))
//
//	cfg, err := psychics.LoadConfig("psychics.toml")
//	mngr, report, err := psychics.NewBuilder().
//	    Config(cfg).
//	    Logger(log).
//	    Init()
//
//	for p := range srv.Accept() {
//	    if _, err := mngr.Join(p); err != nil {
//	        p.Disconnect("failed to load psychic")
//	        continue
//	    }
//	    p.Handle(psychics.NewWandHandler(mngr, nil))
//	}
//
// # Bundles
//
// A bundle is a zip archive in the abilities directory containing an
// ability.yml description:
//
//	id: example.fireball
//	main: example.Fireball
//	version: 1.2.0
//	description:
//	  - Throws a fireball.
//	authors: [someone]
//
// When two bundles share an id the higher version wins. The main entry names
// the entry point registered with Register; other files in the archive are
// resources readable through Module.Open.
//
// # Concepts
//
// A concept is a template in the psychics directory, named after its file:
//
//	display-name: Pyromancer
//	mana: 100
//	mana-regen-per-sec: 5
//	abilities:
//	  fireball:
//	    ability: .fireball
//	    cooldown: 40
//	    cost: 20
//	    channel-duration: 10
//	    wand: blaze_rod
//
// An ability reference starting with "." matches any module id ending with it.
// Missing keys are filled with defaults and written back to the file.
//
// # Abilities
//
// Spec types embed AbilitySpec and declare extra tunables with tags:
//
//	type FireballSpec struct {
//	    psychics.AbilitySpec
//	    Damage float64 `psychics:"damage,min=0"`
//	    Target *string `psychics:"target,opt"`
//	}
//
// Behaviors opt into hooks by implementing Castable, Channelable,
// Initializer, Registrar or Toggler:
//
//	type Fireball struct{}
//
//	func (f *Fireball) OnCast(a *psychics.Ability, args []any) error {
//	    rt := a.Runtime()
//	    p := psychics.NewProjectile(100, nil)
//	    return rt.Launch(p, spawn, dir.Mul(1.5))
//	}
//
// # Tag Reference
//
//	psychics:"key"         - Bound from the key; written back with the default when missing
//	psychics:"key,opt"     - Left unset and not written back when missing
//	psychics:"key,min=N"   - Numeric value must be at least N
//
// # Concurrency
//
// A Runtime is single threaded: the driver ticks each runtime under its lock
// and every other access goes through Runtime.Do. Hooks run inside that lock
// and may call runtime methods directly. Modules, specs and concepts are
// immutable after loading and shared freely.
package psychics

// Version is the library version.
const Version = "0.1.0"
