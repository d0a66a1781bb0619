//go:build property

package graph

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propNames = []string{"a", "b", "c", "d", "e", "f"}

// applyOps replays a random operation stream onto a fresh graph. Each triple
// of bytes encodes one operation: subject name, one or two dependencies, or a
// removal when the third byte selects it.
func applyOps(ops []uint8) *DependencyGraph {
	g := New()
	for i := 0; i+2 < len(ops); i += 3 {
		name := propNames[int(ops[i])%len(propNames)]
		if ops[i+2]%7 == 0 {
			g.Remove(name)
			continue
		}
		deps := map[string]struct{}{
			propNames[int(ops[i+1])%len(propNames)]: {},
		}
		if ops[i+2]%2 == 0 {
			deps[propNames[int(ops[i+2])%len(propNames)]] = struct{}{}
		}
		g.Update(name, deps)
	}
	return g
}

// transposeConsistent checks that forward and reverse indexes mirror each
// other exactly.
func transposeConsistent(g *DependencyGraph) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for name, deps := range g.forward {
		for dep := range deps {
			if _, ok := g.reverse[dep][name]; !ok {
				return false
			}
		}
	}
	for dep, parents := range g.reverse {
		if len(parents) == 0 {
			return false
		}
		for parent := range parents {
			if _, ok := g.forward[parent][dep]; !ok {
				return false
			}
		}
	}
	return true
}

func TestGraphProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("transpose invariant holds after arbitrary operations", prop.ForAll(
		func(ops []uint8) bool {
			return transposeConsistent(applyOps(ops))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("closure is a fixed point", prop.ForAll(
		func(ops []uint8, seedIdx uint8) bool {
			g := applyOps(ops)
			seeds := map[string]struct{}{propNames[int(seedIdx)%len(propNames)]: {}}

			once := g.Closure(seeds)
			twice := g.Closure(once)
			if len(once) != len(twice) {
				return false
			}
			for name := range once {
				if _, ok := twice[name]; !ok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
		gen.UInt8(),
	))

	properties.Property("closure contains its seeds", prop.ForAll(
		func(ops []uint8, seedIdx uint8) bool {
			g := applyOps(ops)
			seed := propNames[int(seedIdx)%len(propNames)]
			closure := g.Closure(map[string]struct{}{seed: {}})
			_, ok := closure[seed]
			return ok
		},
		gen.SliceOf(gen.UInt8()),
		gen.UInt8(),
	))

	properties.Property("closure members reach a seed over forward edges", prop.ForAll(
		func(ops []uint8, seedIdx uint8) bool {
			g := applyOps(ops)
			seed := propNames[int(seedIdx)%len(propNames)]
			closure := g.Closure(map[string]struct{}{seed: {}})

			// Every non-seed member must directly depend on some other
			// closure member; chains of such steps end at the seed.
			for name := range closure {
				if name == seed {
					continue
				}
				found := false
				for dep := range g.Dependencies(name) {
					if _, ok := closure[dep]; ok {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
