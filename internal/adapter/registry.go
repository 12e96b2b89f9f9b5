// Package adapter describes target dialect identities and their single-parent
// inheritance chains used during macro dispatch.
package adapter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Default is the sentinel terminating every adapter chain.
const Default = "default"

var (
	registryMu sync.RWMutex
	registry   = make(map[string]string) // adapter -> parent ("" for none)
)

// Register adds an adapter with an optional parent to the built-in registry.
// Called from init() for the adapters shipped with sqlweave.
func Register(name, parent string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = strings.ToLower(parent)
}

func init() {
	Register("postgres", "")
	Register("redshift", "postgres")
	Register("duckdb", "postgres")
	Register("snowflake", "")
	Register("bigquery", "")
	Register("spark", "")
	Register("databricks", "spark")
	Register("sqlite", "")
}

// IsRegistered checks if an adapter name is known to the built-in registry.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[strings.ToLower(name)]
	return ok
}

// ListAdapters returns all built-in adapter names (sorted).
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownAdapterError is returned when an adapter name cannot be resolved.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q\nAvailable adapters: %v\nHint: check target.type or the adapters section in sqlweave.yaml", e.Type, e.Available)
}

// InheritanceCycleError is returned when declared parents loop back.
type InheritanceCycleError struct {
	Chain []string
}

func (e *InheritanceCycleError) Error() string {
	return fmt.Sprintf("adapter inheritance cycle: %s", strings.Join(e.Chain, " -> "))
}
