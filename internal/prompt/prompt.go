// Package prompt renders the instruction artifact each worker reads on
// startup into the run directory.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/mthorpe/conveyor/internal/domain"
)

//go:embed templates/*.md.tmpl
var templates embed.FS

// Data is the template context for every worker prompt.
type Data struct {
	RunID     string
	Objective string
	Worker    string
	Iteration int
	RunDir    string
}

// Render writes the prompt artifact for a worker and returns its path.
func Render(runDir string, run *domain.Run, worker domain.WorkerName) (string, error) {
	tmpl, err := template.ParseFS(templates, fmt.Sprintf("templates/%s.md.tmpl", worker))
	if err != nil {
		return "", fmt.Errorf("load template for %s: %w", worker, err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, Data{
		RunID:     run.ID,
		Objective: run.Objective,
		Worker:    string(worker),
		Iteration: run.Iteration,
		RunDir:    runDir,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt for %s: %w", worker, err)
	}

	path := filepath.Join(runDir, string(worker), "prompt.md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write prompt for %s: %w", worker, err)
	}
	return path, nil
}
