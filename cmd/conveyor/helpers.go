package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/mthorpe/conveyor/internal/config"
	"github.com/mthorpe/conveyor/internal/coordinator"
	"github.com/mthorpe/conveyor/internal/events"
	"github.com/mthorpe/conveyor/internal/phase"
	"github.com/mthorpe/conveyor/internal/recovery"
	"github.com/mthorpe/conveyor/internal/retry"
	"github.com/mthorpe/conveyor/internal/runstore"
	"github.com/mthorpe/conveyor/internal/session"
)

var projectDir string

// app bundles the wired orchestration components for one invocation.
type app struct {
	cfg      *config.Config
	store    *runstore.Store
	bus      *events.Bus
	phases   *phase.Manager
	host     session.Host
	coord    *coordinator.Coordinator
	retries  *retry.Manager
	recovery *recovery.Service
}

// newApp loads configuration and wires the components. Every command goes
// through here so the wiring stays in one place.
func newApp() (*app, error) {
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	store := runstore.New(cfg.RunsDir())
	phases := phase.NewManager(store, bus)
	host := session.NewTmux(cfg.TmuxBin, cfg.ProjectDir, cfg.Workers)
	coord := coordinator.New(store, phases, host, bus, cfg.SettleDelay)
	rec := recovery.NewService(store, phases, host, bus, cfg.RecoveryMaxAge)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	retryCfg.BaseDelay = cfg.Retry.BaseDelay
	retryCfg.Multiplier = cfg.Retry.Multiplier
	retryCfg.MaxDelay = cfg.Retry.MaxDelay
	retries := retry.NewManager(retryCfg, bus)

	return &app{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		phases:   phases,
		host:     host,
		coord:    coord,
		retries:  retries,
		recovery: rec,
	}, nil
}

// fatalError prints the error and exits non-zero.
func fatalError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// confirm asks a y/N question on the terminal. Non-interactive stdin
// answers no; callers offer --force/--auto for scripted use.
func confirm(question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Printf("%s [y/N] ", question)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
