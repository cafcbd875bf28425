package psychics

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"
)

// testOwner stands in for a player.
type testOwner struct {
	id   uuid.UUID
	name string
}

func newOwner(name string) testOwner {
	return testOwner{id: uuid.New(), name: name}
}

func (o testOwner) UUID() uuid.UUID { return o.id }
func (o testOwner) Name() string    { return o.name }

// boltSpec is the spec type of the test modules.
type boltSpec struct {
	AbilitySpec
	Damage float64 `psychics:"damage,min=0"`
	Label  string  `psychics:"label,opt"`
}

func newBoltSpec() *boltSpec {
	return &boltSpec{AbilitySpec: DefaultAbilitySpec(), Damage: 4}
}

// testBehavior records every hook it receives.
type testBehavior struct {
	casts       [][]any
	interrupts  [][]any
	initialized int
	registered  int
	enabled     int
	disabled    int

	castErr     error
	enableErr   error
	onCast      func(a *Ability, args []any)
	onInterrupt func(a *Ability, args []any)
}

func (b *testBehavior) OnCast(a *Ability, args []any) error {
	b.casts = append(b.casts, args)
	if b.onCast != nil {
		b.onCast(a, args)
	}
	return b.castErr
}

func (b *testBehavior) OnInterrupt(a *Ability, args []any) error {
	b.interrupts = append(b.interrupts, args)
	if b.onInterrupt != nil {
		b.onInterrupt(a, args)
	}
	return nil
}

func (b *testBehavior) OnInitialize(*Ability) error {
	b.initialized++
	return nil
}

func (b *testBehavior) OnRegister(*Ability) error {
	b.registered++
	return nil
}

func (b *testBehavior) OnEnable(*Ability) error {
	b.enabled++
	return b.enableErr
}

func (b *testBehavior) OnDisable(*Ability) error {
	b.disabled++
	return nil
}

// auraBehavior is passive: it can be toggled but not cast.
type auraBehavior struct {
	enabled  int
	disabled int
}

func (b *auraBehavior) OnEnable(*Ability) error {
	b.enabled++
	return nil
}

func (b *auraBehavior) OnDisable(*Ability) error {
	b.disabled++
	return nil
}

var (
	boltEntry = NewEntryPoint(newBoltSpec, func() any { return &testBehavior{} })
	auraEntry = NewEntryPoint(newBoltSpec, func() any { return &auraBehavior{} })
)

// testEntryPoints returns a loader knowing the test entry points.
func testEntryPoints() *EntryPoints {
	eps := NewEntryPoints()
	eps.Register("test.Bolt", boltEntry)
	eps.Register("test.Beam", boltEntry)
	eps.Register("test.Aura", auraEntry)
	return eps
}

// testIndex builds an index without bundles on disk.
func testIndex() *ModuleIndex {
	module := func(id, main string, ep EntryPoint) *Module {
		return NewModule(id+".zip", Description{ID: id, Main: main, Version: "1.0.0"}, nil, ep)
	}
	return newModuleIndex(map[string]*Module{
		"test.bolt": module("test.bolt", "test.Bolt", boltEntry),
		"test.beam": module("test.beam", "test.Beam", boltEntry),
		"test.aura": module("test.aura", "test.Aura", auraEntry),
	})
}

func parseSection(t *testing.T, doc string) *Section {
	t.Helper()
	cfg := NewSection()
	require.NoError(t, yaml.Unmarshal([]byte(doc), cfg))
	return cfg
}

func buildConcept(t *testing.T, name, doc string) *Concept {
	t.Helper()
	c, _, err := BuildConcept(name, parseSection(t, doc), testIndex())
	require.NoError(t, err)
	return c
}

const testConcept = `
mana: 100
mana-regen-per-sec: 20
abilities:
  bolt:
    ability: test.bolt
    cost: 10
    cooldown: 20
    wand: stick
  beam:
    ability: test.beam
    cost: 5
    channel-duration: 5
    interruptible: true
  ray:
    ability: .beam
    cost: 5
    channel-duration: 8
  aura:
    ability: test.aura
`

// newTestRuntime creates an enabled runtime of testConcept at tick.
func newTestRuntime(t *testing.T, tick int64, opts ...RuntimeOption) *Runtime {
	t.Helper()
	rt, err := NewRuntime(newOwner("tester"), buildConcept(t, "tester", testConcept), tick, opts...)
	require.NoError(t, err)
	require.NoError(t, rt.SetEnabled(true))
	return rt
}

func ability(t *testing.T, rt *Runtime, name string) (*Ability, *testBehavior) {
	t.Helper()
	a, ok := rt.Ability(name)
	require.True(t, ok, "ability %s", name)
	b, _ := a.Behavior().(*testBehavior)
	return a, b
}

func observedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

func describe(id, main, version string) string {
	return fmt.Sprintf("id: %s\nmain: %s\nversion: %s\n", id, main, version)
}

// writeBundle writes a bundle archive to dir. An empty description leaves
// out ability.yml.
func writeBundle(t *testing.T, dir, name, description string, files map[string]string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	if description != "" {
		w, err := zw.Create(DescriptionFile)
		require.NoError(t, err)
		_, err = w.Write([]byte(description))
		require.NoError(t, err)
	}
	for file, content := range files {
		w, err := zw.Create(file)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
