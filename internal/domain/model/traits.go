// Package model contains domain models passed between layers.
package model

import "sort"

// SchemaVersion identifies the trait enumeration set below. Adding a trait or
// a value to any enumeration requires bumping it.
const SchemaVersion = 1

// Trait names a demographic field on a submission.
type Trait string

// Known traits, in schema order.
const (
	TraitAgeBracket        Trait = "age_bracket"
	TraitGender            Trait = "gender"
	TraitEthnicity         Trait = "ethnicity"
	TraitSkinTone          Trait = "skin_tone"
	TraitHeightBracket     Trait = "height_bracket"
	TraitVisibleDisability Trait = "visible_disability"
	TraitConcession        Trait = "concession"
)

// Values for binary traits.
const (
	ValueTrue  = "true"
	ValueFalse = "false"
)

// TraitSpec describes one closed enumeration.
type TraitSpec struct {
	Name   Trait
	Values []string
	Binary bool
	// Label is the human readable noun used in explanations.
	Label string
}

// Valid reports whether v belongs to the enumeration.
func (s TraitSpec) Valid(v string) bool {
	for _, x := range s.Values {
		if x == v {
			return true
		}
	}
	return false
}

// Index returns the enumeration position of v, or -1.
func (s TraitSpec) Index(v string) int {
	for i, x := range s.Values {
		if x == v {
			return i
		}
	}
	return -1
}

var schema = []TraitSpec{
	{Name: TraitAgeBracket, Label: "age group", Values: []string{"18-24", "25-34", "35-44", "45+"}},
	{Name: TraitGender, Label: "gender", Values: []string{"Male", "Female", "Nonbinary", "PreferNot"}},
	{Name: TraitEthnicity, Label: "ethnic background", Values: []string{
		"Anglo Australian", "Indigenous", "South Asian", "East Asian", "Southeast Asian",
		"Middle Eastern", "African", "European", "Latin American", "Other", "PreferNot",
	}},
	{Name: TraitSkinTone, Label: "skin tone", Values: []string{"Light", "Medium", "Dark", "PreferNot"}},
	{Name: TraitHeightBracket, Label: "height", Values: []string{"<160", "160-175", "175-190", ">190", "PreferNot"}},
	{Name: TraitVisibleDisability, Label: "visible disability", Binary: true, Values: []string{ValueFalse, ValueTrue}},
	{Name: TraitConcession, Label: "concession status", Binary: true, Values: []string{ValueFalse, ValueTrue}},
}

// Schema returns the trait enumerations in schema order. The returned slice
// is a copy.
func Schema() []TraitSpec {
	out := make([]TraitSpec, len(schema))
	copy(out, schema)
	return out
}

// LookupTrait finds the enumeration for name.
func LookupTrait(name Trait) (TraitSpec, bool) {
	for _, s := range schema {
		if s.Name == name {
			return s, true
		}
	}
	return TraitSpec{}, false
}

// DefaultReferences is the configured baseline level per trait used for
// incidence rate ratios.
func DefaultReferences() map[Trait]string {
	return map[Trait]string{
		TraitAgeBracket:        "25-34",
		TraitGender:            "Male",
		TraitEthnicity:         "Anglo Australian",
		TraitSkinTone:          "Light",
		TraitHeightBracket:     "160-175",
		TraitVisibleDisability: ValueFalse,
		TraitConcession:        ValueFalse,
	}
}

// Traits maps a trait to its value. An absent key means unset.
type Traits map[Trait]string

// Clone returns an independent copy.
func (t Traits) Clone() Traits {
	if t == nil {
		return nil
	}
	out := make(Traits, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Keys returns the set traits in schema order.
func (t Traits) Keys() []Trait {
	keys := make([]Trait, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return schemaPos(keys[i]) < schemaPos(keys[j]) })
	return keys
}

func schemaPos(t Trait) int {
	for i, s := range schema {
		if s.Name == t {
			return i
		}
	}
	return len(schema)
}

// BoolValue renders a tri-state boolean's set value.
func BoolValue(b bool) string {
	if b {
		return ValueTrue
	}
	return ValueFalse
}
