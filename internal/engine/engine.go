// Package engine executes a Graph's Nodes, reconstructing inputs from
// temp storage, running each Node's tasks, tagging outputs, and publishing
// results back to storage.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/buildgraph/buildgraph/internal/graphmodel"
	"github.com/buildgraph/buildgraph/internal/jobtoken"
	"github.com/buildgraph/buildgraph/internal/tempstorage"
)

// IntegrityError reports that a file a Node consumes as input no longer
// matches its recorded length/timestamp: either it changed after its
// producer recorded it and before this Node started, or one of this Node's
// own tasks modified it.
type IntegrityError struct {
	Node string
	Path string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("node %s: build product %s was modified after it was read as an input", e.Node, e.Path)
}

// TaskFailureError wraps the error returned by a Node's Nth task.
type TaskFailureError struct {
	Node  string
	Index int
	Err   error
}

func (e *TaskFailureError) Error() string {
	return fmt.Sprintf("node %s: task %d failed: %v", e.Node, e.Index, e.Err)
}

func (e *TaskFailureError) Unwrap() error { return e.Err }

// Engine runs a Graph's Nodes against a Store.
type Engine struct {
	Graph   *graphmodel.Graph
	Storage *tempstorage.Store

	// Tokens, if non-nil, gates execution on the job-token protocol.
	Tokens                   *jobtoken.Manager
	SkipTargetsWithoutTokens bool

	cleaned map[string]bool
}

// New returns an Engine over g backed by storage.
func New(g *graphmodel.Graph, storage *tempstorage.Store) *Engine {
	return &Engine{Graph: g, Storage: storage, cleaned: map[string]bool{}}
}

// ExecuteAll runs every Node in the Graph in a dependency-respecting,
// declaration-order-tiebroken order, running the integrity sweep and
// token gate first.
func (e *Engine) ExecuteAll(ctx context.Context) error {
	order, err := e.Graph.TopoOrder(e.declOrder())
	if err != nil {
		return err
	}

	order, err = e.gateTokens(order)
	if err != nil {
		return err
	}

	e.integritySweep(order)

	for _, n := range order {
		if err := e.executeNode(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteSingle runs exactly the named Node, pulling its inputs from
// storage as needed. Used by --single-node distributed invocations.
func (e *Engine) ExecuteSingle(ctx context.Context, nodeName string) error {
	n, ok := e.Graph.Nodes[nodeName]
	if !ok {
		return fmt.Errorf("%w: node %s", graphmodel.ErrUnresolvedReference, nodeName)
	}
	if e.Tokens != nil {
		kept, err := e.gateTokens([]*graphmodel.Node{n})
		if err != nil {
			return err
		}
		if len(kept) == 0 {
			return nil
		}
	}
	return e.executeNode(ctx, n)
}

// declOrder returns Node names in the order their Agent elements declared
// them, the tie-break TopoOrder uses for otherwise-equal Nodes.
func (e *Engine) declOrder() []string {
	var order []string
	seen := map[string]bool{}
	for _, a := range e.Graph.Agents {
		for _, n := range a.Nodes {
			if !seen[n.Name] {
				seen[n.Name] = true
				order = append(order, n.Name)
			}
		}
	}
	for name := range e.Graph.Nodes {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	return order
}

// gateTokens acquires every token required by order. With no conflicts,
// order is returned unchanged. With conflicts and SkipTargetsWithoutTokens,
// the affected Nodes (and anything that transitively depended on them) are
// dropped from order. Otherwise every token this call acquired is rolled
// back and a conflict error is returned.
func (e *Engine) gateTokens(order []*graphmodel.Node) ([]*graphmodel.Node, error) {
	if e.Tokens == nil {
		return order, nil
	}

	var allTokens []string
	seenToken := map[string]bool{}
	for _, n := range order {
		for _, tok := range n.Tokens {
			if !seenToken[tok] {
				seenToken[tok] = true
				allTokens = append(allTokens, tok)
			}
		}
	}
	if len(allTokens) == 0 {
		return order, nil
	}

	conflicts, err := e.Tokens.Acquire(allTokens)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return order, nil
	}
	if !e.SkipTargetsWithoutTokens {
		e.Tokens.Rollback()
		return nil, fmt.Errorf("%w: %d token(s) held by another job", jobtoken.ErrConflict, len(conflicts))
	}

	conflicted := map[string]bool{}
	for _, c := range conflicts {
		conflicted[c.Path] = true
	}
	drop := map[string]bool{}
	for _, n := range order {
		for _, tok := range n.Tokens {
			if conflicted[tok] {
				drop[n.Name] = true
				break
			}
		}
	}
	// Cascade: anything depending on a dropped Node's output is dropped too.
	changed := true
	for changed {
		changed = false
		for _, n := range order {
			if drop[n.Name] {
				continue
			}
			for _, out := range n.Inputs {
				if out.Producer != nil && drop[out.Producer.Name] {
					drop[n.Name] = true
					changed = true
					break
				}
			}
		}
	}

	var kept []*graphmodel.Node
	for _, n := range order {
		if !drop[n.Name] {
			kept = append(kept, n)
		}
	}
	return kept, nil
}

// integritySweep invalidates the local cache of any Node whose own
// integrity check fails, or that depends (even transitively) on a Node
// that was invalidated this sweep, preventing stale local output from
// surviving an upstream change.
func (e *Engine) integritySweep(order []*graphmodel.Node) {
	for _, n := range order {
		dirty := false
		for _, out := range n.Inputs {
			if out.Producer != nil && e.cleaned[out.Producer.Name] {
				dirty = true
				break
			}
		}
		if !dirty {
			ok, err := e.Storage.CheckLocalIntegrity(n.Name)
			if err != nil || !ok {
				dirty = true
			}
		}
		if dirty {
			e.cleaned[n.Name] = true
			e.Storage.CleanLocalNode(n.Name)
		}
	}
}

func (e *Engine) executeNode(ctx context.Context, n *graphmodel.Node) error {
	if !e.cleaned[n.Name] && e.Storage.IsComplete(n.Name) {
		ok, err := e.Storage.CheckLocalIntegrity(n.Name)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	tagMap := map[string][]string{}
	fileOriginBlocks := map[string][]string{}
	recorded := map[string]tempstorage.ManifestFile{}

	inputTags := make([]string, 0, len(n.Inputs))
	for tag := range n.Inputs {
		inputTags = append(inputTags, tag)
	}
	sort.Strings(inputTags)

	for _, tag := range inputTags {
		fl, err := e.Storage.Retrieve(ctx, tag)
		if err != nil {
			return fmt.Errorf("node %s: retrieve input %s: %w", n.Name, tag, err)
		}
		tagMap[tag] = append([]string(nil), fl.Files...)
		for _, f := range fl.Files {
			fileOriginBlocks[f] = fl.Blocks
		}
		for _, blockKey := range fl.Blocks {
			m, err := e.Storage.ReadManifest(blockKey)
			if err != nil {
				return fmt.Errorf("node %s: read manifest for block %s: %w", n.Name, blockKey, err)
			}
			for _, mf := range m.Files {
				if existing, ok := recorded[mf.Path]; ok && existing.SHA1 != mf.SHA1 {
					e.Graph.Diagnostics = append(e.Graph.Diagnostics, graphmodel.Diagnostic{
						Severity: graphmodel.SeverityError,
						Message:  fmt.Sprintf("node %s: file %s appears in multiple input blocks with different content; using block %s", n.Name, mf.Path, blockKey),
						Trigger:  triggerNameOf(n.Trigger),
					})
				}
				recorded[mf.Path] = mf
			}
		}
	}
	for _, out := range n.Outputs {
		if _, ok := tagMap[out.Tag]; !ok {
			tagMap[out.Tag] = nil
		}
	}

	// Compare every input file's current length/timestamp against the
	// manifest's recorded values before running any task, catching tampering
	// that happened between the producer's completion and this Node starting.
	before := map[string]fileStamp{}
	for path, mf := range recorded {
		got, ok := statStamp(e.Storage.WorkspaceRoot, path)
		if !ok || got.length != mf.Length || got.ticks != mf.ModifiedAtTicks {
			return &IntegrityError{Node: n.Name, Path: path}
		}
		before[path] = got
	}

	for i, task := range n.Tasks {
		if err := task.Execute(tagMap); err != nil {
			return &TaskFailureError{Node: n.Name, Index: i, Err: err}
		}
	}

	for path, want := range before {
		got, ok := statStamp(e.Storage.WorkspaceRoot, path)
		if !ok || got.length != want.length || got.ticks != want.ticks {
			return &IntegrityError{Node: n.Name, Path: path}
		}
	}

	return e.publish(ctx, n, tagMap, fileOriginBlocks)
}

func triggerNameOf(t *graphmodel.Trigger) string {
	if t == nil {
		return ""
	}
	return t.Name
}

type fileStamp struct {
	length int64
	ticks  int64
}

func statStamp(root, relPath string) (fileStamp, bool) {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{length: info.Size(), ticks: tempstorage.ToTicks(info.ModTime())}, true
}

// publish attributes newly-produced output files to blocks, archives any
// block another agent/trigger needs, writes per-tag file-lists, and marks
// the Node complete.
func (e *Engine) publish(ctx context.Context, n *graphmodel.Node, tagMap map[string][]string, fileOriginBlocks map[string][]string) error {
	attributed := map[string]bool{}
	for path := range fileOriginBlocks {
		attributed[path] = true
	}

	defaultTag := n.Outputs[0].Tag
	tagsByNewFile := map[string][]string{}
	for _, out := range n.Outputs {
		for _, f := range tagMap[out.Tag] {
			if attributed[f] {
				continue
			}
			tagsByNewFile[f] = append(tagsByNewFile[f], out.Tag)
		}
	}

	blockFiles := map[string][]string{}
	blockKeyForFile := map[string]string{}
	for file, tags := range tagsByNewFile {
		nonDefault := make([]string, 0, len(tags))
		for _, t := range tags {
			if t != defaultTag {
				nonDefault = append(nonDefault, t)
			}
		}
		var output string
		switch len(nonDefault) {
		case 0:
			output = ""
		case 1:
			output = strings.TrimPrefix(nonDefault[0], "#")
		default:
			names := make([]string, len(nonDefault))
			for i, t := range nonDefault {
				names[i] = strings.TrimPrefix(t, "#")
			}
			sort.Strings(names)
			output = strings.Join(names, "+")
		}
		key := tempstorage.Block{Node: n.Name, Output: output}.Key()
		blockFiles[key] = append(blockFiles[key], file)
		blockKeyForFile[file] = key
	}

	tagToBlocks := map[string]map[string]bool{}
	addBlock := func(tag, key string) {
		if tagToBlocks[tag] == nil {
			tagToBlocks[tag] = map[string]bool{}
		}
		tagToBlocks[tag][key] = true
	}
	for _, out := range n.Outputs {
		for _, f := range tagMap[out.Tag] {
			if key, ok := blockKeyForFile[f]; ok {
				addBlock(out.Tag, key)
			} else if blocks, ok := fileOriginBlocks[f]; ok {
				for _, b := range blocks {
					addBlock(out.Tag, b)
				}
			}
		}
	}

	neededShared := map[string]bool{}
	for _, other := range e.Graph.Nodes {
		if other == n {
			continue
		}
		for tag, out := range other.Inputs {
			if out.Producer != n {
				continue
			}
			if other.Agent != n.Agent || other.Trigger != n.Trigger {
				neededShared[tag] = true
			}
		}
	}

	blockNeedsShared := map[string]bool{}
	for tag, blocks := range tagToBlocks {
		if !neededShared[tag] {
			continue
		}
		for b := range blocks {
			blockNeedsShared[b] = true
		}
	}

	var newBlockKeys []string
	for key, files := range blockFiles {
		shared := blockNeedsShared[key]
		if _, err := e.Storage.WriteBlock(ctx, keyToBlock(key), files, shared); err != nil {
			return fmt.Errorf("node %s: write block %s: %w", n.Name, key, err)
		}
		newBlockKeys = append(newBlockKeys, key)
	}
	sort.Strings(newBlockKeys)

	var outputTags []string
	for _, out := range n.Outputs {
		blocks := sortedKeys(tagToBlocks[out.Tag])
		shared := false
		for _, b := range blocks {
			if blockNeedsShared[b] {
				shared = true
			}
		}
		fl := tempstorage.FileList{Tag: out.Tag, Files: tagMap[out.Tag], Blocks: blocks}
		if err := e.Storage.WriteFileList(fl, shared); err != nil {
			return fmt.Errorf("node %s: write file-list %s: %w", n.Name, out.Tag, err)
		}
		outputTags = append(outputTags, out.Tag)
	}

	var sharedBlocks []string
	for _, b := range newBlockKeys {
		if blockNeedsShared[b] {
			sharedBlocks = append(sharedBlocks, b)
		}
	}

	delete(e.cleaned, n.Name)
	return e.Storage.MarkComplete(n.Name, outputTags, newBlockKeys, sharedBlocks)
}

func keyToBlock(key string) tempstorage.Block {
	idx := strings.LastIndex(key, "@")
	if idx < 0 {
		return tempstorage.Block{Node: key}
	}
	return tempstorage.Block{Node: key[:idx], Output: key[idx+1:]}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
