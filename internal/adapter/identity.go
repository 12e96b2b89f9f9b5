package adapter

import (
	"strings"
)

// Identity is the active target dialect together with its ancestors.
// It is immutable once resolved and safe to share between goroutines.
type Identity struct {
	chain []string // [name, parent, grandparent, ...], never includes Default
}

// Resolve builds the identity for name. Extra maps user-declared adapters to
// their parents and takes precedence over the built-in registry.
func Resolve(name string, extra map[string]string) (Identity, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == Default {
		return Identity{}, &UnknownAdapterError{Type: name, Available: available(extra)}
	}

	parentOf := func(n string) (string, bool) {
		for k, v := range extra {
			if strings.EqualFold(k, n) {
				return strings.ToLower(v), true
			}
		}
		registryMu.RLock()
		defer registryMu.RUnlock()
		p, ok := registry[n]
		return p, ok
	}

	var chain []string
	seen := make(map[string]bool)
	for cur := name; cur != "" && cur != Default; {
		if seen[cur] {
			return Identity{}, &InheritanceCycleError{Chain: append(chain, cur)}
		}
		parent, ok := parentOf(cur)
		if !ok {
			return Identity{}, &UnknownAdapterError{Type: cur, Available: available(extra)}
		}
		seen[cur] = true
		chain = append(chain, cur)
		cur = parent
	}

	return Identity{chain: chain}, nil
}

// MustResolve is like Resolve but panics on error. Intended for tests.
func MustResolve(name string, extra map[string]string) Identity {
	id, err := Resolve(name, extra)
	if err != nil {
		panic(err)
	}
	return id
}

// Name returns the active adapter name.
func (i Identity) Name() string {
	if len(i.chain) == 0 {
		return Default
	}
	return i.chain[0]
}

// Parent returns the direct parent, or Default.
func (i Identity) Parent() string {
	if len(i.chain) < 2 {
		return Default
	}
	return i.chain[1]
}

// Chain returns the adapter and its ancestors, excluding the Default sentinel.
func (i Identity) Chain() []string {
	out := make([]string, len(i.chain))
	copy(out, i.chain)
	return out
}

// SearchChain returns the dispatch search chain including the trailing
// Default sentinel.
func (i Identity) SearchChain() []string {
	return append(i.Chain(), Default)
}

// Is reports whether the identity is name or inherits from it.
func (i Identity) Is(name string) bool {
	name = strings.ToLower(name)
	if name == Default {
		return true
	}
	for _, n := range i.chain {
		if n == name {
			return true
		}
	}
	return false
}

// IsZero reports whether the identity was never resolved.
func (i Identity) IsZero() bool { return len(i.chain) == 0 }

func (i Identity) String() string {
	return strings.Join(i.SearchChain(), " -> ")
}

// KnownNames returns every adapter name recognised as a dispatch prefix:
// built-ins plus extra.
func KnownNames(extra map[string]string) map[string]bool {
	names := make(map[string]bool)
	for _, n := range available(extra) {
		names[n] = true
	}
	names[Default] = true
	return names
}

func available(extra map[string]string) []string {
	names := ListAdapters()
	for k := range extra {
		k = strings.ToLower(k)
		found := false
		for _, n := range names {
			if n == k {
				found = true
				break
			}
		}
		if !found {
			names = append(names, k)
		}
	}
	return names
}
