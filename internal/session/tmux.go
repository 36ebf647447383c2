// Package session hosts worker processes in detached tmux sessions so they
// outlive the orchestrator and stay inspectable by the operator.
package session

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/logging"
)

// Host supervises external worker processes. The orchestration core never
// blocks on a worker; it only starts, probes, and kills sessions.
type Host interface {
	// Start launches the worker command for a run inside a dedicated
	// session, pointing it at its prompt artifact.
	Start(ctx context.Context, runID string, worker domain.WorkerName, promptPath string) error

	// Alive probes whether the worker's session still exists.
	Alive(runID string, worker domain.WorkerName) bool

	// Stop sends a termination signal to the worker's session.
	Stop(runID string, worker domain.WorkerName) error
}

// Tmux runs workers in detached tmux sessions named
// conveyor-<runID>-<worker>.
type Tmux struct {
	bin      string
	commands map[string]string // worker name -> shell command template
	workdir  string
	log      *logging.Logger
}

// NewTmux creates a tmux host. commands maps worker names to shell commands;
// the prompt path is appended as the last argument.
func NewTmux(bin string, workdir string, commands map[string]string) *Tmux {
	if bin == "" {
		bin = "tmux"
	}
	return &Tmux{bin: bin, commands: commands, workdir: workdir, log: logging.New("session")}
}

// SessionName returns the addressable tmux session slot for a worker.
func SessionName(runID string, worker domain.WorkerName) string {
	return fmt.Sprintf("conveyor-%s-%s", runID, worker)
}

// Start implements Host.
func (t *Tmux) Start(ctx context.Context, runID string, worker domain.WorkerName, promptPath string) error {
	command, ok := t.commands[string(worker)]
	if !ok || strings.TrimSpace(command) == "" {
		return fmt.Errorf("no command configured for worker %s", worker)
	}

	name := SessionName(runID, worker)
	shellCmd := fmt.Sprintf("%s %s", command, promptPath)

	cmd := exec.CommandContext(ctx, t.bin, "new-session", "-d", "-s", name, "-c", t.workdir, shellCmd)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("start session %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}

	t.log.Info("worker_started", map[string]interface{}{
		"run": runID, "worker": string(worker), "session": name,
	})
	return nil
}

// Alive implements Host.
func (t *Tmux) Alive(runID string, worker domain.WorkerName) bool {
	cmd := exec.Command(t.bin, "has-session", "-t", SessionName(runID, worker))
	return cmd.Run() == nil
}

// Stop implements Host.
func (t *Tmux) Stop(runID string, worker domain.WorkerName) error {
	name := SessionName(runID, worker)
	cmd := exec.Command(t.bin, "kill-session", "-t", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		// Killing a session that already exited is not a failure.
		if strings.Contains(string(out), "can't find session") {
			return nil
		}
		return fmt.Errorf("kill session %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	t.log.Info("worker_stopped", map[string]interface{}{
		"run": runID, "worker": string(worker), "session": name,
	})
	return nil
}
