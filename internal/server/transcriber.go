package server

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// Transcriber runs an external speech capture command and feeds every
// non-empty line it prints to sink
type Transcriber struct {
	command string
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	sink    func(text string) error
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
}

// StartTranscriber launches command through the shell
func StartTranscriber(command string, sink func(text string) error, logger *slog.Logger) (*Transcriber, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("transcriber command cannot be empty")
	}

	cmd := exec.Command("sh", "-c", command)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start transcriber: %w", err)
	}

	t := &Transcriber{
		command: command,
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		sink:    sink,
		logger:  logger,
		done:    make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		t.readStdout()
	}()
	go func() {
		defer readers.Done()
		t.logStderr()
	}()
	// Wait may only run once both pipes are drained
	go func() {
		readers.Wait()
		err := cmd.Wait()
		if err != nil && !t.isClosed() {
			logger.Error("transcriber exited", "command", command, "error", err)
		} else {
			logger.Info("transcriber exited", "command", command)
		}
		close(t.done)
	}()

	logger.Info("started transcriber", "command", command, "pid", cmd.Process.Pid)
	return t, nil
}

// Done is closed once the process has exited
func (t *Transcriber) Done() <-chan struct{} {
	return t.done
}

// Close kills the process and waits for it to exit
func (t *Transcriber) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.done
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.cmd.Process != nil {
		if err := t.cmd.Process.Kill(); err != nil {
			t.logger.Debug("transcriber already gone", "error", err)
		}
	}
	// a grandchild of the shell may still hold the pipes open
	t.stdout.Close()
	t.stderr.Close()
	<-t.done
	t.logger.Info("closed transcriber", "command", t.command)
	return nil
}

func (t *Transcriber) readStdout() {
	scanner := bufio.NewScanner(t.stdout)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := t.sink(text); err != nil {
			t.logger.Warn("failed to deliver transcription", "error", err)
		}
	}
	if err := scanner.Err(); err != nil && !t.isClosed() {
		t.logger.Error("error reading transcriber output", "error", err)
	}
}

func (t *Transcriber) logStderr() {
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		t.logger.Warn("transcriber stderr", "message", scanner.Text())
	}
	if err := scanner.Err(); err != nil && !t.isClosed() {
		t.logger.Error("error reading stderr", "error", err)
	}
}

func (t *Transcriber) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
