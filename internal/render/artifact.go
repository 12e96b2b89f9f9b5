package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"time"

	"github.com/leapstack-labs/sqlweave/internal/catalog"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/macro"
	"github.com/leapstack-labs/sqlweave/internal/registry"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
	"github.com/leapstack-labs/sqlweave/internal/template"
	"go.starlark.net/starlark"
)

// Artifact is the rendered output of one model.
type Artifact struct {
	ID      string
	Package string
	Name    string
	File    string
	Text    string
	Refs    []RefCall
	Config  *ModelConfig
	// Hash is the sha256 of Text.
	Hash string
}

// Result is the output of rendering one template.
type Result struct {
	Text     string
	Refs     []RefCall
	Config   map[string]any // values passed to config()
	Warnings diag.List
}

// Input identifies what is being rendered.
type Input struct {
	// Artifact is the id used for the outermost frame and for diagnostics.
	Artifact string
	// Package is the package the template belongs to.
	Package string
	// This is the relation exposed as "this" (optional).
	This *starctx.Relation
}

// ModelName derives a model name from its file path.
func ModelName(p string) string {
	return strings.TrimSuffix(path.Base(p), path.Ext(p))
}

// Render evaluates a parsed template. On failure the returned error is a
// *diag.Error scoped to in.Artifact.
func (r *Renderer) Render(ctx context.Context, tmpl *template.Template, in Input) (*Result, error) {
	thread := starctx.NewThread(ctx, in.Artifact, starctx.ThreadOptions{
		MaxSteps: r.env.MaxSteps,
		Logger:   r.logger,
	})
	defer starctx.ReleaseThread(thread)

	st := newState(r, in.Artifact, in.Package, diag.Span{File: tmpl.File})
	st.this = in.This
	thread.SetLocal(stateKey, st)

	globals, ok := r.globals[in.Package]
	if !ok {
		return nil, diag.Newf(diag.KindEvaluation, diag.Span{File: tmpl.File}, "unknown package %q", in.Package).
			WithArtifact(in.Artifact)
	}
	scope := starctx.NewScope(globals)
	if in.This != nil {
		scope.Set("this", in.This)
	}
	st.locals = make(starlark.StringDict, len(tmpl.Macros()))
	for _, m := range tmpl.Macros() {
		st.locals[m.Name] = &Macro{local: true, def: &macro.Definition{
			Name:    m.Name,
			Base:    m.Name,
			Package: in.Package,
			File:    tmpl.File,
			Params:  m.Params,
			Body:    m.Body,
			Span:    m.Span(),
			Doc:     m.Docstring(),
		}}
	}
	for name, v := range st.locals {
		scope.Set(name, v)
	}

	ev := &evaluator{st: st, thread: thread, scope: scope}
	if err := ev.exec(tmpl.Nodes); err != nil {
		if de, ok := diag.As(err); ok {
			return nil, de.WithArtifact(in.Artifact)
		}
		return nil, st.errorf("%v", err)
	}

	return &Result{
		Text:     ev.out.String(),
		Refs:     st.refs,
		Config:   st.config,
		Warnings: st.warnings,
	}, nil
}

// RenderModel parses and renders a model file and resolves its config.
// Diagnostics are scoped to the model; a nil artifact means it failed.
func (r *Renderer) RenderModel(ctx context.Context, f *catalog.File) (*Artifact, diag.List) {
	var diags diag.List
	name := ModelName(f.Path)
	id := registry.ModelID(f.Package, name)
	start := time.Now()

	tmpl, err := template.ParseModel(f.Content, f.DisplayPath())
	if err != nil {
		diags.AddErr(err, diag.Span{File: f.DisplayPath()})
		for _, d := range diags {
			d.WithArtifact(id)
		}
		return nil, diags
	}

	this := starctx.NewRelation(r.env.Target.Database, r.env.Target.Schema, name)
	if r.env.Models != nil {
		if m, ok := r.env.Models.GetModel(id); ok {
			this = starctx.NewRelation(m.Database, m.Schema, m.Identifier)
		}
	}

	res, err := r.Render(ctx, tmpl, Input{Artifact: id, Package: f.Package, This: this})
	if err != nil {
		diags.AddErr(err, diag.Span{File: f.DisplayPath()})
		return nil, diags
	}
	diags.Extend(res.Warnings)

	cfg, err := decodeConfig(mergeConfig(r.env.ModelDefaults, tmpl.Frontmatter, res.Config),
		name, r.env.Target.Schema, r.env.Target.Database)
	if err != nil {
		diags.Add(diag.NewEvaluationError(diag.Span{File: f.DisplayPath()}, err.Error()).WithArtifact(id))
		return nil, diags
	}

	r.logger.Debug("rendered model",
		"model", id,
		"refs", len(res.Refs),
		"duration_ms", time.Since(start).Milliseconds())

	sum := sha256.Sum256([]byte(res.Text))
	return &Artifact{
		ID:      id,
		Package: f.Package,
		Name:    name,
		File:    f.DisplayPath(),
		Text:    res.Text,
		Refs:    res.Refs,
		Config:  cfg,
		Hash:    hex.EncodeToString(sum[:]),
	}, diags
}
