package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mthorpe/conveyor/internal/domain"
)

func TestRenderAllWorkers(t *testing.T) {
	run := domain.NewRun("add rate limiting to the API", 3)
	run.Iteration = 2
	dir := t.TempDir()

	for _, w := range domain.Workers {
		path, err := Render(dir, run, w)
		require.NoError(t, err, "worker %s", w)
		assert.Equal(t, filepath.Join(dir, string(w), "prompt.md"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		content := string(data)
		assert.Contains(t, content, run.ID, "worker %s", w)
		assert.Contains(t, content, "done.flag", "worker %s", w)
	}
}

func TestRenderIncludesObjective(t *testing.T) {
	run := domain.NewRun("add rate limiting to the API", 3)
	path, err := Render(t.TempDir(), run, domain.WorkerRefiner)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "add rate limiting to the API")
}

func TestRenderUnknownWorker(t *testing.T) {
	run := domain.NewRun("x", 3)
	_, err := Render(t.TempDir(), run, domain.WorkerName("janitor"))
	require.Error(t, err)
}
