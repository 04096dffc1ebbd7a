package debug

import (
	"context"
	"strconv"
	"strings"
	"testing"

	turbotask "github.com/jky0ung/turbotask"
	"github.com/jky0ung/turbotask/testutil"
)

func newTestBackend() *turbotask.Backend {
	exec := testutil.NewInlineExecutor(context.Background())
	backend := turbotask.NewBackend(exec)
	exec.SetBackend(backend)
	return backend
}

// TestRenderScopeTreeShowsParentChild builds a two-level scope DAG (a
// Root task's scope added as a child of another Root task's scope) and
// checks the rendered tree nests the child under the parent with its
// multiplicity and counters visible.
func TestRenderScopeTreeShowsParentChild(t *testing.T) {
	backend := newTestBackend()

	parentOwner := backend.CreateRootTask(func(ctx *turbotask.ExecCtx) (turbotask.ValueHandle, error) {
		return turbotask.TaskOutput(ctx.TaskID()), nil
	})
	childOwner := backend.CreateRootTask(func(ctx *turbotask.ExecCtx) (turbotask.ValueHandle, error) {
		return turbotask.TaskOutput(ctx.TaskID()), nil
	})

	parentScope, ok := backend.RootScope(parentOwner)
	if !ok {
		t.Fatalf("expected parentOwner to mint a root scope")
	}
	childScope, ok := backend.RootScope(childOwner)
	if !ok {
		t.Fatalf("expected childOwner to mint a root scope")
	}

	backend.AddTaskToScope(childOwner, parentScope)

	out := RenderScopeTree(parentScope, backend.SnapshotScope)

	if !strings.Contains(out, "inactive") {
		t.Fatalf("expected freshly minted scopes to render as inactive, got:\n%s", out)
	}
	wantChild := "scope " + strconv.FormatUint(uint64(childScope), 10)
	if !strings.Contains(out, wantChild) {
		t.Fatalf("expected rendered tree to mention child scope %d, got:\n%s", childScope, out)
	}

	backend.Activate(parentScope)
	out = RenderScopeTree(parentScope, backend.SnapshotScope)
	if !strings.Contains(out, "[active]") {
		t.Fatalf("expected the activated parent scope to render as active, got:\n%s", out)
	}
}

// TestRenderScopeTreeUnknownScope matches the "not found" fallback path for
// a ScopeId the lookup does not recognize.
func TestRenderScopeTreeUnknownScope(t *testing.T) {
	backend := newTestBackend()
	out := RenderScopeTree(turbotask.ScopeId(99999), backend.SnapshotScope)
	if !strings.Contains(out, "not found") {
		t.Fatalf("expected an unknown scope to report not found, got: %s", out)
	}
}
