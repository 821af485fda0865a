package graph

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint returns a stable digest of a unit's identity, inputs and edges.
// Two generator runs over the same configuration produce equal fingerprints.
func (u *Unit) Fingerprint() string {
	h := blake3.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.Write([]byte(p))
			_, _ = h.Write([]byte{0})
		}
	}
	write("unit", u.Name, u.Group)
	for _, k := range sortedKeys(u.Inputs) {
		write("input", k, u.Inputs[k])
	}
	for _, k := range sortedKeys(u.Properties) {
		write("property", k, u.Properties[k])
	}
	write("depends")
	write(u.dependsOn...)
	write("finalized")
	write(u.finalizedBy...)
	write("after")
	write(u.mustRunAfter...)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprints returns the fingerprint of every unit in the plan.
func (pl *Plan) Fingerprints() map[string]string {
	out := make(map[string]string, len(pl.units))
	for name, u := range pl.units {
		out[name] = u.Fingerprint()
	}
	return out
}
