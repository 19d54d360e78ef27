/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package robotconfig

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"

	"github.com/friendsincode/caninspect/internal/telemetry"
)

const (
	restartTimeout = 5 * time.Second
	killGrace      = 2 * time.Second
)

// Process is the view of an OS process the supervisor needs.
type Process interface {
	Pid() int32
	Cmdline(ctx context.Context) (string, error)
	Terminate(ctx context.Context) error
	Kill(ctx context.Context) error
	IsRunning(ctx context.Context) (bool, error)
}

// ProcessLister enumerates running processes.
type ProcessLister func(ctx context.Context) ([]Process, error)

// CommandRunner runs a command to completion.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Supervisor reports on and restarts the robot server process.
type Supervisor struct {
	service       string
	supervisorctl string
	list          ProcessLister
	run           CommandRunner
	grace         time.Duration
	logger        zerolog.Logger
}

// SupervisorOptions configures a Supervisor. Nil hooks use the host.
type SupervisorOptions struct {
	Service       string // Supervisor program name, also matched in command lines
	Supervisorctl string
	Lister        ProcessLister
	Runner        CommandRunner
	KillGrace     time.Duration
}

// NewSupervisor creates a supervisor for the named service.
func NewSupervisor(opts SupervisorOptions, logger zerolog.Logger) *Supervisor {
	if opts.Service == "" {
		opts.Service = "viam-server"
	}
	if opts.Supervisorctl == "" {
		opts.Supervisorctl = "supervisorctl"
	}
	if opts.Lister == nil {
		opts.Lister = HostProcesses
	}
	if opts.Runner == nil {
		opts.Runner = runCommand
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = killGrace
	}
	return &Supervisor{
		service:       opts.Service,
		supervisorctl: opts.Supervisorctl,
		list:          opts.Lister,
		run:           opts.Runner,
		grace:         opts.KillGrace,
		logger:        logger.With().Str("component", "robot_supervisor").Logger(),
	}
}

// Running reports whether a robot server started with a config file is
// running. Lookup errors are logged and reported as not running.
func (s *Supervisor) Running(ctx context.Context) bool {
	procs, err := s.matching(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("process lookup failed")
		return false
	}
	return len(procs) > 0
}

// Restart asks the process supervisor to restart the robot server. When
// supervisorctl fails outright, matching processes are terminated directly
// and killed if still alive after the grace period. A supervisorctl timeout
// is logged only, since the restart may still be in progress.
func (s *Supervisor) Restart(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, restartTimeout)
	defer cancel()

	err := s.run(runCtx, s.supervisorctl, "restart", s.service)
	switch {
	case err == nil:
		telemetry.RobotRestartsTotal.WithLabelValues("supervisorctl").Inc()
		s.logger.Info().Str("service", s.service).Msg("restart requested via supervisorctl")
		return nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		telemetry.RobotRestartsTotal.WithLabelValues("timeout").Inc()
		s.logger.Warn().Str("service", s.service).Dur("timeout", restartTimeout).Msg("supervisorctl timed out")
		return nil
	}

	s.logger.Warn().Err(err).Str("service", s.service).Msg("supervisorctl restart failed, signalling process directly")
	if err := s.kill(ctx); err != nil {
		return fmt.Errorf("restart %s: %w", s.service, err)
	}
	telemetry.RobotRestartsTotal.WithLabelValues("signal").Inc()
	return nil
}

func (s *Supervisor) kill(ctx context.Context) error {
	procs, err := s.matching(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range procs {
		s.logger.Info().Int32("pid", p.Pid()).Msg("terminating robot server")
		if err := p.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate %d: %w", p.Pid(), err))
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.grace):
		}

		if alive, _ := p.IsRunning(ctx); alive {
			s.logger.Warn().Int32("pid", p.Pid()).Msg("still alive, sending SIGKILL")
			if err := p.Kill(ctx); err != nil {
				errs = append(errs, fmt.Errorf("kill %d: %w", p.Pid(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// matching returns processes whose command line names the service and a
// -config flag.
func (s *Supervisor) matching(ctx context.Context) ([]Process, error) {
	procs, err := s.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var out []Process
	for _, p := range procs {
		cmdline, err := p.Cmdline(ctx)
		if err != nil {
			// Processes exit between listing and inspection.
			continue
		}
		if strings.Contains(cmdline, s.service) && strings.Contains(cmdline, "-config") {
			out = append(out, p)
		}
	}
	return out, nil
}

// HostProcesses lists processes on this host with gopsutil.
func HostProcesses(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		out = append(out, hostProcess{p: p})
	}
	return out, nil
}

type hostProcess struct {
	p *process.Process
}

func (h hostProcess) Pid() int32 { return h.p.Pid }

func (h hostProcess) Cmdline(ctx context.Context) (string, error) {
	return h.p.CmdlineWithContext(ctx)
}

func (h hostProcess) Terminate(ctx context.Context) error {
	return h.p.TerminateWithContext(ctx)
}

func (h hostProcess) Kill(ctx context.Context) error {
	return h.p.KillWithContext(ctx)
}

func (h hostProcess) IsRunning(ctx context.Context) (bool, error) {
	return h.p.IsRunningWithContext(ctx)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
