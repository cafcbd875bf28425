package psychics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/df-mc/dragonfly/server/item"
)

// Spec is implemented by every module's spec type. Module spec types embed
// AbilitySpec and add their own tagged tunables:
//
//	type FireballSpec struct {
//	    psychics.AbilitySpec
//	    Damage float64 `psychics:"damage,min=0"`
//	    Speed  float64 `psychics:"speed"`
//	}
type Spec interface {
	Base() *AbilitySpec
}

// SpecInitializer is implemented by spec types that derive state once their
// fields have been bound.
type SpecInitializer interface {
	OnInitialize() error
}

// AbilitySpec holds the static tunables shared by every instance of an ability
// within one psychic concept. It is bound once from the concept template and
// never mutated afterwards.
type AbilitySpec struct {
	Type            AbilityType `psychics:"type"`
	Cooldown        int         `psychics:"cooldown,min=0"`
	Cost            float64     `psychics:"cost,min=0"`
	Interruptible   bool        `psychics:"interruptible"`
	ChannelDuration int         `psychics:"channel-duration,min=0"`
	Range           float64     `psychics:"range,min=0"`
	Wand            *ItemRef    `psychics:"wand,opt"`
	Description     []string    `psychics:"description"`

	name   string
	module *Module
}

// DefaultAbilitySpec returns the defaults every spec type starts from.
func DefaultAbilitySpec() AbilitySpec {
	return AbilitySpec{
		Type:        Passive,
		Description: []string{"No description."},
	}
}

// Base implements Spec.
func (s *AbilitySpec) Base() *AbilitySpec {
	return s
}

// Name returns the local name the spec is bound to within its concept.
func (s *AbilitySpec) Name() string {
	return s.name
}

// Module returns the module that provided the spec.
func (s *AbilitySpec) Module() *Module {
	return s.module
}

// Channeled reports whether casts are delayed by a channel.
func (s *AbilitySpec) Channeled() bool {
	return s.ChannelDuration > 0
}

// AbilityType classifies an ability for display and input routing.
type AbilityType int

const (
	Movement AbilityType = iota
	Casting
	Spell
	Passive
)

// String returns the string representation of the ability type.
func (t AbilityType) String() string {
	switch t {
	case Movement:
		return "movement"
	case Casting:
		return "casting"
	case Spell:
		return "spell"
	case Passive:
		return "passive"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t AbilityType) MarshalText() ([]byte, error) {
	return []byte(strings.ToUpper(t.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Matching is case insensitive.
func (t *AbilityType) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "movement":
		*t = Movement
	case "casting":
		*t = Casting
	case "spell":
		*t = Spell
	case "passive":
		*t = Passive
	default:
		return fmt.Errorf("unknown ability type %q", text)
	}
	return nil
}

// ItemRef identifies an activation item by its encoded name and metadata
// value, for example "minecraft:blaze_rod" or "minecraft:dye:4".
type ItemRef struct {
	Name string
	Meta int16
}

// ItemRefOf returns the reference of the item held in stack.
func ItemRefOf(stack item.Stack) (ItemRef, bool) {
	if stack.Empty() {
		return ItemRef{}, false
	}
	name, meta := stack.Item().EncodeItem()
	return ItemRef{Name: name, Meta: meta}, true
}

// Matches reports whether stack holds the referenced item.
func (r ItemRef) Matches(stack item.Stack) bool {
	other, ok := ItemRefOf(stack)
	return ok && other == r
}

// String returns the text form of the reference.
func (r ItemRef) String() string {
	if r.Meta == 0 {
		return r.Name
	}
	return r.Name + ":" + strconv.Itoa(int(r.Meta))
}

// MarshalText implements encoding.TextMarshaler.
func (r ItemRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Names without a
// namespace are placed in the minecraft namespace.
func (r *ItemRef) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	if s == "" {
		return fmt.Errorf("empty item reference")
	}

	parts := strings.Split(s, ":")
	var meta int16
	if len(parts) > 1 {
		if n, err := strconv.ParseInt(parts[len(parts)-1], 10, 16); err == nil {
			meta = int16(n)
			parts = parts[:len(parts)-1]
		}
	}

	switch len(parts) {
	case 1:
		parts = []string{"minecraft", parts[0]}
	case 2:
	default:
		return fmt.Errorf("invalid item reference %q", text)
	}
	if parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid item reference %q", text)
	}

	*r = ItemRef{Name: parts[0] + ":" + parts[1], Meta: meta}
	return nil
}
