package shellindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/shellindex"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

func TestIndexPutGet(t *testing.T) {
	index := shellindex.New()
	index.Put(types.ShellDescriptor{"id": "shell-1", "idShort": "one"})
	index.Put(types.ShellDescriptor{"id": "shell-2", "idShort": "two"})
	index.Put(types.ShellDescriptor{"idShort": "no id, ignored"})

	require.Equal(t, 2, index.Len())

	shell, ok := index.Get("shell-1")
	require.True(t, ok)
	require.Equal(t, "one", shell["idShort"])

	_, ok = index.Get("shell-3")
	require.False(t, ok)

	require.Len(t, index.Snapshot(), 2)
}

func TestIndexReturnsCopies(t *testing.T) {
	index := shellindex.New()
	original := types.ShellDescriptor{"id": "shell-1", "nested": map[string]any{"k": "v"}}
	index.Put(original)

	// Mutating the stored-from descriptor or a returned copy never leaks into
	// the index.
	original["nested"].(map[string]any)["k"] = "mutated outside"
	got, _ := index.Get("shell-1")
	require.Equal(t, "v", got["nested"].(map[string]any)["k"])

	got["nested"].(map[string]any)["k"] = "mutated copy"
	again, _ := index.Get("shell-1")
	require.Equal(t, "v", again["nested"].(map[string]any)["k"])
}

func TestIndexDeleteAndPurge(t *testing.T) {
	index := shellindex.New()
	index.Put(types.ShellDescriptor{"id": "shell-1"})
	index.Put(types.ShellDescriptor{"id": "shell-2"})

	index.Delete("shell-1")
	require.Equal(t, 1, index.Len())

	index.Purge()
	require.Equal(t, 0, index.Len())
}
