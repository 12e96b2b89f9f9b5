// Package state persists compile manifests in SQLite. Each compile
// invocation records its nodes, edges, macro index and diagnostics so later
// commands can inspect the last good graph without recompiling.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNoManifest is returned when no successful invocation has been saved.
var ErrNoManifest = errors.New("no successful compile recorded")

// Status is the outcome of an invocation.
type Status string

// Invocation statuses.
const (
	// StatusSuccess means the compile produced a graph and no errors.
	StatusSuccess Status = "success"
	// StatusFailed means at least one error diagnostic was reported.
	StatusFailed Status = "failed"
)

// NodeKind distinguishes model nodes from declared sources.
type NodeKind string

// Node kinds.
const (
	NodeModel  NodeKind = "model"
	NodeSource NodeKind = "source"
)

// Invocation is one compile run.
type Invocation struct {
	ID         string    `json:"id"`
	Adapter    string    `json:"adapter"`
	Target     string    `json:"target"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	NodeCount  int       `json:"node_count"`
	ErrorCount int       `json:"error_count"`
}

// Node is a graph node as stored.
type Node struct {
	ID           string   `json:"id"`
	Package      string   `json:"package"`
	Kind         NodeKind `json:"kind"`
	Name         string   `json:"name"`
	File         string   `json:"file,omitempty"`
	Materialized string   `json:"materialized,omitempty"`
	Hash         string   `json:"hash,omitempty"`
	Text         string   `json:"text,omitempty"`
}

// Edge points from a dependency to its dependent.
type Edge struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

// Macro is one indexed macro definition.
type Macro struct {
	Package   string `json:"package"`
	Name      string `json:"name"`
	Prefix    string `json:"prefix,omitempty"`
	Signature string `json:"signature"`
	File      string `json:"file"`
	Line      int    `json:"line"`
}

// Diagnostic is a flattened diagnostic.
type Diagnostic struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Artifact string `json:"artifact,omitempty"`
}

// Manifest is everything recorded for one invocation.
type Manifest struct {
	Invocation  Invocation   `json:"invocation"`
	Nodes       []Node       `json:"nodes"`
	Edges       []Edge       `json:"edges"`
	Macros      []Macro      `json:"macros"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Store persists manifests.
type Store interface {
	// SaveManifest writes a manifest atomically.
	SaveManifest(ctx context.Context, m *Manifest) error
	// LatestManifest loads the newest successful manifest, or ErrNoManifest.
	LatestManifest(ctx context.Context) (*Manifest, error)
	// Invocations lists recent invocations, newest first.
	Invocations(ctx context.Context, limit int) ([]Invocation, error)
	// Prune keeps the newest keep invocations and deletes the rest.
	Prune(ctx context.Context, keep int) (int64, error)
	Close() error
}
