// Package bundle computes the canonical, order-independent classification of
// a customer's purchased add-ons. The bundle key selects a downstream
// notification destination and feeds analytics tagging.
package bundle

import (
	"sort"
	"strings"

	"github.com/coursepay/coursepay/app/models"
)

// NoneKey is the sentinel bundle key for an empty add-on set.
const NoneKey = "none"

// Tier and analytics tags.
const (
	TagWhale       = "whale"
	TagHighValue   = "high_value"
	TagUpsellBuyer = "upsell_buyer"
	TagSubscriber  = "subscriber"
)

// Value thresholds in minor currency units.
const (
	whaleThreshold     = 20000
	highValueThreshold = 10000
)

// Classify returns the canonical bundle key for an unordered set of add-on
// keys: lexicographically sorted, comma-joined, deduplicated. An empty set
// classifies as "none".
func Classify(addOnKeys []string) string {
	seen := make(map[string]struct{}, len(addOnKeys))
	keys := make([]string, 0, len(addOnKeys))
	for _, raw := range addOnKeys {
		key := strings.TrimSpace(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return NoneKey
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// Destination names a statically configured notification endpoint. The
// dispatcher maps each name to a URL from the environment.
type Destination string

// DestinationDefault catches bundle keys with no dedicated route. Valid
// subsets must never be silently skipped.
const DestinationDefault Destination = "bundle_default"

// routes covers every non-empty subset of the fixed add-on catalog plus the
// empty-set sentinel.
var routes = map[string]Destination{
	NoneKey: "bundle_none",

	"agency_pack": "bundle_agency_pack",
	"canva_kit":   "bundle_canva_kit",
	"fb_ads":      "bundle_fb_ads",
	"membership":  "bundle_membership",

	"agency_pack,canva_kit":  "bundle_agency_pack_canva_kit",
	"agency_pack,fb_ads":     "bundle_agency_pack_fb_ads",
	"agency_pack,membership": "bundle_agency_pack_membership",
	"canva_kit,fb_ads":       "bundle_canva_kit_fb_ads",
	"canva_kit,membership":   "bundle_canva_kit_membership",
	"fb_ads,membership":      "bundle_fb_ads_membership",

	"agency_pack,canva_kit,fb_ads":     "bundle_agency_pack_canva_kit_fb_ads",
	"agency_pack,canva_kit,membership": "bundle_agency_pack_canva_kit_membership",
	"agency_pack,fb_ads,membership":    "bundle_agency_pack_fb_ads_membership",
	"canva_kit,fb_ads,membership":      "bundle_canva_kit_fb_ads_membership",

	"agency_pack,canva_kit,fb_ads,membership": "bundle_full_stack",
}

// Route maps a bundle key to its notification destination, falling back to
// the explicit default route for unmapped keys.
func Route(bundleKey string) Destination {
	if dest, ok := routes[bundleKey]; ok {
		return dest
	}
	return DestinationDefault
}

// Tags computes the analytics tags for a purchase history: one
// `purchased_<key>` tag per add-on, at most one tier tag (thresholds
// evaluated highest-first, mutually exclusive), and a non-exclusive
// subscriber tag when any purchased add-on is recurring.
func Tags(totalMinorUnits int64, addOnKeys []string, hasSubscription bool) []string {
	seen := make(map[string]struct{}, len(addOnKeys))
	addOns := make([]string, 0, len(addOnKeys))
	for _, key := range addOnKeys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		addOns = append(addOns, key)
	}
	sort.Strings(addOns)

	tags := make([]string, 0, len(addOns)+2)
	for _, key := range addOns {
		tags = append(tags, "purchased_"+key)
	}

	switch {
	case totalMinorUnits >= whaleThreshold:
		tags = append(tags, TagWhale)
	case totalMinorUnits >= highValueThreshold:
		tags = append(tags, TagHighValue)
	case len(addOns) > 0:
		tags = append(tags, TagUpsellBuyer)
	}

	if hasSubscription {
		tags = append(tags, TagSubscriber)
	}
	return tags
}

// AddOnsOf filters a purchased-product list down to the fixed add-on catalog.
func AddOnsOf(productKeys []string) []string {
	addOns := make([]string, 0, len(productKeys))
	for _, key := range productKeys {
		if models.IsAddOnKey(key) {
			addOns = append(addOns, key)
		}
	}
	return addOns
}
