// Package debug renders the live Scope DAG for diagnostics. It has no
// dependency on the engine's internals beyond the exported ScopeSnapshot
// accessor, so it can be wired into any host process without pulling the
// core package's lock-sensitive types into the rendering path.
package debug

import (
	"fmt"
	"sort"

	"github.com/m1gwings/treedrawer/tree"

	turbotask "github.com/jky0ung/turbotask"
)

// ScopeLookup resolves a ScopeId to its current snapshot, matching
// (*turbotask.Backend).SnapshotScope's signature.
type ScopeLookup func(turbotask.ScopeId) (turbotask.ScopeSnapshot, bool)

// RenderScopeTree draws root and its descendants as an ASCII tree showing
// active/unfinished/dirty counts and child multiplicities, adapting the
// teacher's buildTree/addTreeAsChild recursion shape (originally over an
// executor dependency graph) to Scope nodes.
func RenderScopeTree(root turbotask.ScopeId, lookup ScopeLookup) string {
	t := buildTree(root, lookup, make(map[turbotask.ScopeId]bool))
	if t == nil {
		return fmt.Sprintf("scope %d: not found", root)
	}
	return t.String()
}

func buildTree(id turbotask.ScopeId, lookup ScopeLookup, visited map[turbotask.ScopeId]bool) *tree.Tree {
	if visited[id] {
		return tree.NewTree(tree.NodeString(fmt.Sprintf("scope %d (cycle)", id)))
	}
	visited[id] = true

	snap, ok := lookup(id)
	if !ok {
		return tree.NewTree(tree.NodeString(fmt.Sprintf("scope %d (gone)", id)))
	}

	node := tree.NewTree(tree.NodeString(label(snap)))

	children := make([]turbotask.ScopeId, 0, len(snap.Children))
	for c := range snap.Children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })

	for _, c := range children {
		count := snap.Children[c]
		childTree := buildTree(c, lookup, visited)
		addTreeAsChild(node, childTree, count)
	}

	return node
}

func addTreeAsChild(parent *tree.Tree, child *tree.Tree, multiplicity int) {
	label := child.Val()
	if multiplicity > 1 {
		label = tree.NodeString(fmt.Sprintf("%v x%d", label, multiplicity))
	}
	newChild := parent.AddChild(label)
	for _, grandchild := range child.Children() {
		addTreeAsChild(newChild, grandchild, 1)
	}
}

func label(s turbotask.ScopeSnapshot) tree.NodeValue {
	status := "inactive"
	if s.ActiveCount > 0 {
		status = "active"
	}
	return tree.NodeString(fmt.Sprintf("scope %d [%s] tasks=%d unfinished=%d dirty=%d",
		s.Id, status, s.Tasks, s.UnfinishedTasks, s.DirtyTasks))
}
