package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Sink plays the bytes written to it. Writes may block while the device
// catches up. Stop silences it immediately.
type Sink interface {
	io.Writer
	Stop() error
}

// Device opens a fresh Sink for every playback cycle.
type Device interface {
	Open(ctx context.Context) (Sink, error)
}

// CommandDevice plays audio by piping it into a child process, by default
// `mpv --quiet --idle=yes -`.
type CommandDevice struct {
	Argv []string
	Log  *slog.Logger
}

// Open starts the player process.
func (d *CommandDevice) Open(ctx context.Context) (Sink, error) {
	if len(d.Argv) == 0 {
		return nil, errors.New("audio device: empty command")
	}
	cmd := exec.Command(d.Argv[0], d.Argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("audio device: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio device: start %s: %w", d.Argv[0], err)
	}
	if d.Log != nil {
		d.Log.Debug("audio device started", slog.String("command", d.Argv[0]), slog.Int("pid", cmd.Process.Pid))
	}
	return &processSink{cmd: cmd, stdin: stdin}, nil
}

type processSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	once  sync.Once
	err   error
}

func (s *processSink) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Stop kills the process; it does not wait for buffered audio to finish.
func (s *processSink) Stop() error {
	s.once.Do(func() {
		_ = s.stdin.Close()
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.err = fmt.Errorf("audio device: kill: %w", err)
		}
		_ = s.cmd.Wait()
	})
	return s.err
}
