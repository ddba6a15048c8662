// File path: internal/common/process/process.go
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/caseforge/caseforge/internal/common"
)

// Spec describes a backing-store sidecar the service should supervise, for
// example a local Milvus standalone or a Neo4j server started for
// development.
type Spec struct {
	Name          string
	Command       string
	Args          []string
	Env           []string
	WorkDir       string
	ReadyURL      string
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	StopTimeout   time.Duration
}

// Sidecar is one supervised external process.
type Sidecar struct {
	spec   Spec
	cmd    *exec.Cmd
	logger *slog.Logger

	done    chan struct{}
	waitErr error
	mu      sync.RWMutex
}

// Launch starts the process, forwards its output into the service log and
// blocks until the readiness probe succeeds.
func Launch(ctx context.Context, spec Spec) (*Sidecar, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, errors.New("process: command required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = spec.Command
	}
	logger := common.Logger().With("component", "sidecar/"+name)
	logger.Info("process: launching", "command", spec.Command, "args", strings.Join(spec.Args, " "))

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdout pipe %s: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("process: stderr pipe %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("process: start %s: %w", name, err)
	}

	sc := &Sidecar{spec: spec, cmd: cmd, logger: logger, done: make(chan struct{})}
	var streams sync.WaitGroup
	forward := func(pipe io.ReadCloser, level slog.Level) {
		streams.Add(1)
		go func() {
			defer streams.Done()
			defer pipe.Close()
			scanner := bufio.NewScanner(pipe)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				logger.Log(context.Background(), level, scanner.Text())
			}
		}()
	}
	forward(stdout, slog.LevelInfo)
	forward(stderr, slog.LevelWarn)

	go func() {
		err := cmd.Wait()
		streams.Wait()
		sc.mu.Lock()
		sc.waitErr = err
		sc.mu.Unlock()
		close(sc.done)
	}()

	if err := sc.awaitReady(ctx); err != nil {
		sc.Stop(context.Background())
		return nil, err
	}
	logger.Info("process: ready", "url", spec.ReadyURL)
	return sc, nil
}

// Stop interrupts the process and kills it if it ignores the interrupt.
func (s *Sidecar) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.logger.Info("process: stopping")
	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("process: interrupt failed", "error", err)
		}
	}
	stopTimeout := s.spec.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return s.exitError()
	case <-timer.C:
		s.logger.Warn("process: forcing kill")
		if s.cmd != nil && s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return err
			}
		}
		<-s.done
		return s.exitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sidecar) awaitReady(ctx context.Context) error {
	if strings.TrimSpace(s.spec.ReadyURL) == "" {
		return nil
	}
	readyTimeout := s.spec.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 30 * time.Second
	}
	interval := s.spec.ReadyInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	client := &http.Client{Timeout: 2 * time.Second}
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-readyCtx.Done():
			if lastErr != nil {
				return fmt.Errorf("process: %s readiness timed out after %s: %w", s.spec.Name, readyTimeout, lastErr)
			}
			return fmt.Errorf("process: %s readiness timed out after %s: %w", s.spec.Name, readyTimeout, readyCtx.Err())
		case <-s.done:
			return fmt.Errorf("process: %s exited before ready: %w", s.spec.Name, s.exitError())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(readyCtx, http.MethodGet, s.spec.ReadyURL, nil)
			if err != nil {
				return fmt.Errorf("process: readiness request for %s: %w", s.spec.Name, err)
			}
			resp, err := client.Do(req)
			if err != nil {
				lastErr = err
				continue
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusInternalServerError {
				return nil
			}
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
	}
}

func (s *Sidecar) exitError() error {
	s.mu.RLock()
	err := s.waitErr
	s.mu.RUnlock()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		// Interrupt-driven exits count as clean shutdowns.
		return nil
	}
	return err
}
