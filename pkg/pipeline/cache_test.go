package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "cache.gob")

	options := map[string]string{"flavor": "spicy"}
	proj := testProject()
	proj.IndexURL = "https://index.example.com/upload"
	tasks := TaskList{
		"lint": scriptTask("lint", dir, []string{"fmt"}, "flake8 ."),
		"fmt":  scriptTask("fmt", dir, nil, "black ."),
	}

	err := WriteCache(file, options, proj, tasks)
	require.NoError(t, err)

	cachedOptions, cachedProj, cachedTasks, err := ReadCache(file)
	require.NoError(t, err)

	require.Equal(t, options, cachedOptions)
	require.Equal(t, proj, cachedProj)
	require.Len(t, cachedTasks, 2)
	require.Equal(t, []string{"fmt"}, cachedTasks["lint"].Deps)
	require.Equal(t, tasks["lint"].Cmds, cachedTasks["lint"].Cmds)
}

func TestReadCacheMissingFile(t *testing.T) {
	t.Parallel()

	_, _, _, err := ReadCache(filepath.Join(t.TempDir(), "missing.gob"))
	require.Error(t, err)
}
