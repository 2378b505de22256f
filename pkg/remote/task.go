package remote

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrej220/gsh/pkg/lg"
	"golang.org/x/sync/errgroup"
)

// Status is the lifecycle phase of a Task.
type Status int32

const (
	StatusQueued Status = iota
	StatusRunning
	StatusFailed
	StatusSuccess
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Task executes the shared command on one host through the external client
// and feeds every output line to the hooks. A Task is single use: run is
// called exactly once, from the pool.
type Task struct {
	hostname string
	command  []string
	client   string
	hooks    []Hook
	timeout  time.Duration // advisory hint, never enforced
	log      lg.Logger

	status int32

	mu         sync.Mutex // guards the fields below
	exitCode   int
	startedAt  time.Time
	finishedAt time.Time
}

func newTask(hostname string, command []string, client string, hooks []Hook, timeout time.Duration, log lg.Logger) *Task {
	return &Task{
		hostname: hostname,
		command:  command,
		client:   client,
		hooks:    hooks,
		timeout:  timeout,
		log:      log.With(lg.String("host", hostname)),
		exitCode: -1,
	}
}

func (t *Task) Hostname() string { return t.hostname }

// ExitCode is the subprocess exit code, or -1 while the subprocess has not
// exited. Safe to read while the task runs.
func (t *Task) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Status may be read while the task is running.
func (t *Task) Status() Status { return Status(atomic.LoadInt32(&t.status)) }

func (t *Task) setStatus(s Status) { atomic.StoreInt32(&t.status, int32(s)) }

// Started and Finished bound the subprocess lifetime. Each stays zero until
// its moment has passed; both are safe to read while the task runs.
func (t *Task) Started() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

func (t *Task) Finished() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedAt
}

func (t *Task) markStarted() {
	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()
}

func (t *Task) markFinished() {
	t.mu.Lock()
	t.finishedAt = time.Now()
	t.mu.Unlock()
}

func (t *Task) setExitCode(rc int) {
	t.mu.Lock()
	t.exitCode = rc
	t.mu.Unlock()
}

// run starts the client subprocess, multiplexes its stdout and stderr into
// one queue, and drains that queue through the hooks. Both streams must hit
// EOF before the sentinel is queued, and the consumer must be done before
// the exit code is recorded. A non-zero exit code is ordinary data, not an
// error; anything that breaks the launch or the line delivery is.
func (t *Task) run() error {
	t.setStatus(StatusRunning)
	t.markStarted()
	defer t.markFinished()
	if t.timeout > 0 {
		t.log.Debug("task timeout is advisory only", lg.Duration("timeout", t.timeout))
	}

	args := append([]string{t.hostname}, t.command...)
	cmd := exec.Command(t.client, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.setStatus(StatusFailed)
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.setStatus(StatusFailed)
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		t.setStatus(StatusFailed)
		return fmt.Errorf("start %s: %w", t.client, err)
	}
	t.log.Debug("subprocess started", lg.Strings("args", args))

	queue := newOutputQueue()
	var readers errgroup.Group
	readers.Go(func() error { return readStream(stdout, queue, StreamStdout) })
	readers.Go(func() error { return readStream(stderr, queue, StreamStderr) })

	consumed := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				consumed <- fmt.Errorf("hook panicked: %v", r)
			}
		}()
		consumed <- t.consume(queue)
	}()

	readErr := readers.Wait() // both streams reached EOF
	queue.push(nil)           // sentinel: stop the consumer
	hookErr := <-consumed

	waitErr := cmd.Wait()
	rc := 0
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		rc = exitErr.ExitCode()
	default:
		t.setStatus(StatusFailed)
		return fmt.Errorf("wait for %s: %w", t.client, waitErr)
	}
	t.setExitCode(rc)

	if hookErr != nil {
		t.setStatus(StatusFailed)
		return hookErr
	}
	if readErr != nil {
		t.setStatus(StatusFailed)
		return readErr
	}

	if rc == 0 {
		t.setStatus(StatusSuccess)
	} else {
		t.setStatus(StatusFailed)
	}
	t.log.Debug("subprocess finished", lg.Int("rc", rc))
	return nil
}

// readStream pushes each line of r into the queue tagged with its stream.
// The queue is unbounded so a busy consumer never stalls the read side, and
// lines are accumulated whole no matter how long they grow. The only way
// out is EOF on r; there is no cancellation.
func readStream(r io.Reader, queue *outputQueue, stream StreamName) error {
	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			queue.push(&output{stream: stream, line: trimEOL(raw)})
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// keep draining so the subprocess is never left blocked on a
			// full pipe
			io.Copy(io.Discard, br)
			return fmt.Errorf("%s read: %w", stream, err)
		}
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}

// consume drains the queue until the sentinel, handing every line to every
// hook in registration order. The sentinel never reaches a hook, and
// nothing queued behind it is processed. A hook error stops consumption
// and fails the task.
func (t *Task) consume(queue *outputQueue) error {
	for {
		o := queue.pop()
		if o == nil {
			return nil
		}
		for _, h := range t.hooks {
			if err := h.Notify(t.hostname, o.stream, o.line); err != nil {
				return fmt.Errorf("hook on %s line: %w", o.stream, err)
			}
		}
	}
}
