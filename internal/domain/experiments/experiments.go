// Package experiments implements deterministic A/B variant assignment for
// anonymous visitors. Assignment needs no server round-trip once experiment
// definitions are cached: the same visitor/experiment pair always hashes to
// the same variant while the variant list is unchanged.
package experiments

import (
	"math"
	"net/url"
	"strings"
)

// Variant is one named treatment within an experiment. Config is an opaque
// payload the widget reads for variant-specific behavior.
type Variant struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// Definition is a named A/B test with an ordered list of variants.
type Definition struct {
	Key      string    `json:"key"`
	Variants []Variant `json:"variants"`
}

// Assignment is the variant chosen for a visitor/experiment pair.
type Assignment struct {
	ExperimentKey string         `json:"experimentKey"`
	VariantName   string         `json:"variantName"`
	Forced        bool           `json:"forced,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
}

// AssignmentSet maps experiment key to the assignment for one page view.
type AssignmentSet map[string]Assignment

// Override forces one experiment's assignment for the current page view.
type Override struct {
	ExperimentKey string
	VariantName   string
}

// hashString is a 31-multiplier polynomial rolling hash folded to a 32-bit
// signed integer. It must stay stable across releases: changing it would
// rebucket every visitor.
func hashString(s string) int32 {
	var h int32
	for i := 0; i < len(s); i++ {
		h = 31*h + int32(s[i])
	}
	return h
}

// Bucket deterministically selects a variant for the visitor. It reports
// false when the variant list is empty, which callers must treat as "no
// override": default behavior, no assignment recorded.
func Bucket(visitorID, experimentKey string, variants []Variant) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}

	h := hashString(visitorID + ":" + experimentKey)
	if h == math.MinInt32 {
		h = 0
	} else if h < 0 {
		h = -h
	}
	return variants[int(h)%len(variants)], true
}

// ParseOverride extracts a key:variant override from the page URL's query
// string. Only one override pair is supported per page view.
func ParseOverride(pageURL, paramName string) (Override, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return Override{}, false
	}

	raw := u.Query().Get(paramName)
	if raw == "" {
		return Override{}, false
	}

	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Override{}, false
	}
	return Override{ExperimentKey: parts[0], VariantName: parts[1]}, true
}

// Assign computes the assignment set for one page view. A matching override
// wins over the hash and is flagged as forced; an override naming an unknown
// variant falls back to hashing.
func Assign(visitorID string, definitions []Definition, override *Override) AssignmentSet {
	set := make(AssignmentSet, len(definitions))

	for _, def := range definitions {
		if override != nil && override.ExperimentKey == def.Key {
			if v, ok := findVariant(def.Variants, override.VariantName); ok {
				set[def.Key] = Assignment{
					ExperimentKey: def.Key,
					VariantName:   v.Name,
					Forced:        true,
					Config:        v.Config,
				}
				continue
			}
		}

		v, ok := Bucket(visitorID, def.Key, def.Variants)
		if !ok {
			continue
		}
		set[def.Key] = Assignment{
			ExperimentKey: def.Key,
			VariantName:   v.Name,
			Config:        v.Config,
		}
	}
	return set
}

func findVariant(variants []Variant, name string) (Variant, bool) {
	for _, v := range variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}
