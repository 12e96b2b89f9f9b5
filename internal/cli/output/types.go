package output

// CompileOutput is the JSON result of the compile command.
type CompileOutput struct {
	InvocationID string         `json:"invocation_id"`
	Adapter      string         `json:"adapter"`
	Target       string         `json:"target"`
	DurationMS   int64          `json:"duration_ms"`
	Models       []CompiledNode `json:"models"`
	Failed       []string       `json:"failed,omitempty"`
	Invalid      []string       `json:"invalid,omitempty"`
	Dropped      []string       `json:"dropped,omitempty"`
	Disabled     []string       `json:"disabled,omitempty"`
	Diagnostics  []Diagnostic   `json:"diagnostics"`
}

// CompiledNode is one model in execution order.
type CompiledNode struct {
	ID           string   `json:"id"`
	Materialized string   `json:"materialized"`
	Hash         string   `json:"hash"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

// RenderOutput is the JSON result of the render command.
type RenderOutput struct {
	Model  string `json:"model"`
	SQL    string `json:"sql"`
	Config any    `json:"config,omitempty"`
}

// DAGOutput is the JSON result of the dag command.
type DAGOutput struct {
	InvocationID string     `json:"invocation_id,omitempty"`
	Levels       []DAGLevel `json:"levels"`
	TotalNodes   int        `json:"total_nodes"`
	TotalEdges   int        `json:"total_edges"`
}

// DAGLevel groups nodes that can be built in parallel.
type DAGLevel struct {
	Level int       `json:"level"`
	Nodes []DAGNode `json:"nodes"`
}

// DAGNode is a node and its direct neighbours.
type DAGNode struct {
	ID        string   `json:"id"`
	DependsOn []string `json:"depends_on,omitempty"`
	UsedBy    []string `json:"used_by,omitempty"`
}

// MacroOutput is one row of the macros command.
type MacroOutput struct {
	Package   string `json:"package"`
	Name      string `json:"name"`
	Base      string `json:"base"`
	Prefix    string `json:"prefix,omitempty"`
	Signature string `json:"signature"`
	Location  string `json:"location"`
	Doc       string `json:"doc,omitempty"`
}

// ResolveOutput is the JSON result of the resolve command.
type ResolveOutput struct {
	Macro    string        `json:"macro"`
	Adapter  string        `json:"adapter"`
	Calling  string        `json:"calling"`
	Order    []string      `json:"order"`
	Probes   []ProbeOutput `json:"probes"`
	Resolved string        `json:"resolved,omitempty"`
	Location string        `json:"location,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ProbeOutput is one registry lookup made during resolution.
type ProbeOutput struct {
	Package   string `json:"package"`
	Candidate string `json:"candidate"`
	Found     bool   `json:"found"`
}
