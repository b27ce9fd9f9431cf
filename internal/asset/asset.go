// Package asset decides which release files belong to a device.
package asset

import (
	"strings"

	"sbsrf-update/internal/release"
)

const (
	// CorePrefix names the variant-independent dictionary assets.
	CorePrefix = "sbsrf"
	// SentencePrefix names the optional sentence-level language model.
	SentencePrefix = "octagram"
)

// Match reports whether an asset named name is installed on a device of the
// given variant. Rules are checked in order and the first applicable one decides.
func Match(name, variant string, sentence bool) bool {
	if strings.HasPrefix(name, CorePrefix) {
		return true
	}
	if strings.HasPrefix(name, SentencePrefix) {
		return sentence
	}
	tag := strings.ToLower(variant)
	if tag == "" {
		return false
	}
	return strings.HasPrefix(name, tag)
}

// Filter returns the assets that Match accepts, preserving release order.
func Filter(assets []release.Asset, variant string, sentence bool) []release.Asset {
	var out []release.Asset
	for _, a := range assets {
		if Match(a.Name, variant, sentence) {
			out = append(out, a)
		}
	}
	return out
}
