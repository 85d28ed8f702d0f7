// Package fetch runs the external download utility and exposes its output
// as a stream, with forced-termination semantics for cleanup.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Options configures one fetch invocation. The header spoofing and relaxed
// TLS exist to get past anti-scraping defenses on government media servers.
type Options struct {
	Referer         string
	Origin          string
	SocketTimeout   time.Duration
	FragmentRetries int
	InsecureTLS     bool
}

// Process is a running fetch child. Output is the media byte stream;
// Wait blocks until exit and reports failure including the stderr tail;
// Kill is forced termination, never graceful.
type Process interface {
	Output() io.Reader
	Wait() error
	Kill() error
}

// Runner starts fetch processes. Injected so tests can substitute an
// in-memory implementation.
type Runner interface {
	Start(ctx context.Context, url string, opts Options) (Process, error)
}

// CommandRunner executes the real binary (yt-dlp by default).
type CommandRunner struct {
	Binary string
}

// Start launches the fetch process with stdout piped to Output.
func (r *CommandRunner) Start(ctx context.Context, url string, opts Options) (Process, error) {
	cmd := exec.CommandContext(ctx, r.Binary, buildArgs(url, opts)...)

	stderr := &tailBuffer{max: 8 * 1024}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.Binary, err)
	}

	pr, pw := io.Pipe()
	p := &process{cmd: cmd, out: pr, exited: make(chan struct{})}

	// Copy stdout through an io.Pipe so Wait never races reads on the OS
	// pipe, then settle the exit result exactly once.
	go func() {
		_, copyErr := io.Copy(pw, stdout)
		waitErr := cmd.Wait()
		var result error
		switch {
		case waitErr != nil:
			if tail := stderr.String(); tail != "" {
				result = fmt.Errorf("%s: %w: %s", r.Binary, waitErr, tail)
			} else {
				result = fmt.Errorf("%s: %w", r.Binary, waitErr)
			}
		case copyErr != nil:
			result = copyErr
		}
		p.err = result
		close(p.exited)
		if result != nil {
			pw.CloseWithError(result)
		} else {
			_ = pw.Close()
		}
	}()

	return p, nil
}

// Version probes the binary for the readiness check.
func (r *CommandRunner) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, r.Binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", r.Binary, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func buildArgs(url string, opts Options) []string {
	args := []string{"--quiet", "--no-warnings", "--no-progress", "--no-part", "-o", "-"}
	if opts.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(opts.SocketTimeout.Seconds())))
	}
	if opts.FragmentRetries > 0 {
		args = append(args, "--fragment-retries", strconv.Itoa(opts.FragmentRetries))
	}
	if opts.Referer != "" {
		args = append(args, "--referer", opts.Referer)
	}
	if opts.Origin != "" {
		args = append(args, "--add-header", "Origin:"+opts.Origin)
	}
	if opts.InsecureTLS {
		args = append(args, "--no-check-certificate")
	}
	return append(args, url)
}

type process struct {
	cmd    *exec.Cmd
	out    *io.PipeReader
	exited chan struct{}
	err    error
}

func (p *process) Output() io.Reader {
	return p.out
}

func (p *process) Wait() error {
	<-p.exited
	return p.err
}

var errKilled = errors.New("fetch process killed")

func (p *process) Kill() error {
	// Closing the read side unblocks the copy goroutine when the consumer
	// has stopped reading, so Wait can still reap the child.
	defer p.out.CloseWithError(errKilled)
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// tailBuffer keeps the last max bytes written, enough to carry the fetch
// utility's final error lines into wrapped errors.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
