package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buildgraph/buildgraph/internal/buildgraphfx"
	"github.com/buildgraph/buildgraph/internal/engine"
	"github.com/buildgraph/buildgraph/internal/export"
	"github.com/buildgraph/buildgraph/internal/graphmodel"
	"github.com/buildgraph/buildgraph/internal/properties"
	"github.com/buildgraph/buildgraph/internal/script"
	"github.com/buildgraph/buildgraph/internal/tempstorage"
)

func run(cmd *cobra.Command, o *runOptions) error {
	ctx := cmd.Context()
	workspaceRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine workspace root: %w", err)
	}

	app, err := buildgraphfx.New(buildgraphfx.Options{
		ConfigPath:       o.configPath,
		WorkspaceRoot:    workspaceRoot,
		SharedStorageDir: o.sharedStorageDir,
		TokenSignature:   o.tokenSignature,
	})
	if err != nil {
		return err
	}

	if o.publicTasksOnly {
		app.Log.Warn("public-tasks-only requested; this registry build ships no restricted-folder task assemblies to exclude")
	}

	workspaceLock := tempstorage.NewWorkspaceLock(app.Storage.LocalRoot)
	held, err := workspaceLock.TryAcquire()
	if err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	if held {
		defer workspaceLock.Release()
	} else {
		app.Log.Warn("another buildgraph run already holds this workspace's local cache; continuing anyway")
	}

	if o.schemaPath != "" {
		if err := writeToPath(o.schemaPath, app.Registry.WriteJSON); err != nil {
			return err
		}
		if o.scriptPath == "" {
			return nil
		}
	}
	if o.docPath != "" {
		if err := writeToPath(o.docPath, app.Registry.WriteMarkdown); err != nil {
			return err
		}
		return nil
	}
	if o.scriptPath == "" {
		return newUserError("--script is required unless only --schema or --documentation is requested")
	}

	overrides, err := parseSetFlags(o.set)
	if err != nil {
		return err
	}

	reader := script.NewReader(script.Options{
		Registry:  app.Registry,
		Overrides: overrides,
	})
	graph, err := reader.ReadFile(o.scriptPath, overrides)
	if err != nil {
		return err
	}

	if targets := properties.SplitOnAny(o.target, "+;"); len(targets) > 0 {
		if err := graph.Select(targets); err != nil {
			return err
		}
	}
	if o.trigger != "" {
		if err := graph.FilterToTrigger(o.trigger); err != nil {
			return err
		}
	}
	if len(o.skipTriggers) > 0 {
		if err := graph.SkipTriggers(o.skipTriggers); err != nil {
			return err
		}
	}
	if o.reportName != "" {
		injectReport(graph, o.reportName)
	}

	emitDiagnostics(app.Log, graph)

	if o.clean {
		if err := app.Storage.CleanLocal(); err != nil {
			return err
		}
	}
	for _, name := range o.cleanNode {
		if err := app.Storage.CleanLocalNode(name); err != nil {
			return err
		}
	}

	if o.preprocessPath != "" {
		if err := writeToPath(o.preprocessPath, graph.WritePreprocessed); err != nil {
			return err
		}
	}

	if o.exportPath != "" {
		var trigger *graphmodel.Trigger
		if o.trigger != "" {
			trigger = graph.Triggers[o.trigger]
		}
		if err := writeExport(o.exportPath, graph, trigger, completedSet(app, graph)); err != nil {
			return err
		}
		return nil
	}

	if o.listOnly {
		graph.Print(cmd.OutOrStdout(), completedSet(app, graph), graphmodel.PrintOptions{
			ShowDeps:          o.showDeps,
			ShowNotifications: o.showNotifications,
		})
		return nil
	}

	if o.tokenSignature == "" {
		app.Tokens = nil
	}

	eng := engine.New(graph, app.Storage)
	eng.Tokens = app.Tokens
	eng.SkipTargetsWithoutTokens = o.skipTargetsWithoutTokens

	if o.singleNode != "" {
		return eng.ExecuteSingle(ctx, o.singleNode)
	}
	return eng.ExecuteAll(ctx)
}

func writeToPath(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeExport(path string, g *graphmodel.Graph, trigger *graphmodel.Trigger, completed map[string]bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.Write(f, g, trigger, completed); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseSetFlags(pairs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range pairs {
		idx := strings.IndexByte(p, '=')
		if idx < 0 {
			return nil, newUserError("--set %q: expected Name=Value", p)
		}
		out[p[:idx]] = p[idx+1:]
	}
	return out, nil
}

func injectReport(g *graphmodel.Graph, name string) {
	var nodes []*graphmodel.Node
	for _, n := range g.Nodes {
		nodes = append(nodes, n)
	}
	g.Reports[name] = &graphmodel.Report{Name: name, Nodes: nodes}
}

func completedSet(app *buildgraphfx.App, g *graphmodel.Graph) map[string]bool {
	completed := map[string]bool{}
	for name := range g.Nodes {
		if app.Storage.IsComplete(name) {
			completed[name] = true
		}
	}
	return completed
}

func emitDiagnostics(log interface {
	Warn(string, ...any)
	Error(string, ...any)
}, g *graphmodel.Graph) {
	for _, d := range g.Diagnostics {
		if d.Severity == graphmodel.SeverityError {
			log.Error(d.Message, "trigger", d.Trigger)
		} else {
			log.Warn(d.Message, "trigger", d.Trigger)
		}
	}
}
