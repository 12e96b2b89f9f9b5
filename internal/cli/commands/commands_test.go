package commands

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/sqlweave/internal/cli/config"
	"github.com/leapstack-labs/sqlweave/internal/cli/output"
	"github.com/leapstack-labs/sqlweave/internal/cli/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		name  string
		cmd   func() *cobra.Command
		use   string
		flags []string
	}{
		{name: "compile", cmd: NewCompileCommand, use: "compile", flags: []string{"watch"}},
		{name: "render", cmd: NewRenderCommand, use: "render <model>"},
		{name: "dag", cmd: NewDAGCommand, use: "dag", flags: []string{"from-state"}},
		{name: "macros", cmd: NewMacrosCommand, use: "macros", flags: []string{"package"}},
		{name: "resolve", cmd: NewResolveCommand, use: "resolve <macro>", flags: []string{"from", "namespace"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd()
			assert.Equal(t, tt.use, cmd.Use)
			assert.NotEmpty(t, cmd.Short, "Short should not be empty")
			assert.NotEmpty(t, cmd.Long, "Long should not be empty")
			assert.NotEmpty(t, cmd.Example, "Example should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestNewVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3", "abc123")
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, buf.String(), "sqlweave v1.2.3 (abc123)")
	assert.Equal(t, "version", cmd.Use)
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"model write", fsnotify.Event{Name: "models/a.sql", Op: fsnotify.Write}, true},
		{"project file", fsnotify.Event{Name: "sqlweave.yaml", Op: fsnotify.Write}, true},
		{"sources removed", fsnotify.Event{Name: "models/sources.yml", Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: "models/a.sql", Op: fsnotify.Chmod}, false},
		{"state database", fsnotify.Event{Name: ".sqlweave/state.db", Op: fsnotify.Write}, false},
		{"editor swap file", fsnotify.Event{Name: "models/.a.sql.swp", Op: fsnotify.Create}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.event))
		})
	}
}

func TestWatch_RecompilesOnChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "models"), 0o755))

	tr := testutil.NewTestRenderer(output.ModeText, false)
	cc := &CommandContext{
		Cfg:      &config.Config{ProjectDir: dir},
		Logger:   slog.New(slog.DiscardHandler),
		Renderer: tr.Renderer,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := make(chan struct{}, 10)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, cc, func(context.Context) { runs <- struct{}{} })
	}()

	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("initial compile did not run")
	}

	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "models", "a.sql"), []byte("select 1"), 0o600)
		select {
		case <-runs:
			return true
		case <-time.After(2 * watchDebounce):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	assert.Contains(t, tr.ErrorOutput(), "watching")
}
