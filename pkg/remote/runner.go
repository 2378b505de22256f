// Package remote fans one command out to many hosts. Each host gets a
// single-use Task that runs an external client subprocess and streams its
// output through the shared hooks; the Runner bounds how many tasks run at
// once and aggregates their exit codes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andrej220/gsh/pkg/lg"
	"github.com/andrej220/gsh/pkg/workerpool"
	"github.com/google/uuid"
)

// DefaultClient is the external client invoked as
// "<client> <host> <command args...>".
const DefaultClient = "ssh"

// ErrWaitTimeout reports that Wait's deadline passed while tasks were still
// running. Nothing is cancelled; Wait may be called again.
var ErrWaitTimeout = errors.New("wait timed out")

// Options tune a Runner beyond its hosts and command.
type Options struct {
	ForkLimit int           // max tasks running at once, coerced to at least 1
	Timeout   time.Duration // advisory per-task hint, never enforced
	Hooks     []Hook
	Client    string // defaults to DefaultClient
	Logger    lg.Logger
	RunID     string // defaults to a fresh UUID; hooks may share it
}

type taskResult struct {
	task *Task
	err  error
}

// Runner is one fan-out execution of one command across a set of hosts.
// It is not safe for concurrent use; call RunAsync once, then Wait.
type Runner struct {
	runID   string
	hosts   map[string]struct{}
	command []string
	limit   int
	timeout time.Duration
	client  string
	hooks   []Hook
	log     lg.Logger

	pool     *workerpool.Pool[*Task]
	stopOnce sync.Once
	remotes  []*Task
	results  chan taskResult
	pending  int
}

// NewRunner deduplicates hosts and captures the shared command and hook
// list. The hook slice is copied at construction and read-only afterwards;
// the command slice is shared by reference with every Task and must not be
// mutated. Host iteration order is unspecified.
func NewRunner(hosts []string, command []string, opts Options) *Runner {
	limit := opts.ForkLimit
	if limit < 1 {
		limit = 1
	}
	client := opts.Client
	if client == "" {
		client = DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = lg.Discard
	}

	hostSet := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		hostSet[h] = struct{}{}
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Runner{
		runID:   runID,
		hosts:   hostSet,
		command: command,
		limit:   limit,
		timeout: opts.Timeout,
		client:  client,
		hooks:   append([]Hook(nil), opts.Hooks...),
		log:     logger.With(lg.String("run_id", runID)),
		results: make(chan taskResult, len(hostSet)),
	}
}

func (r *Runner) RunID() string { return r.runID }

// Remotes lists every created Task, one per distinct host, in submission
// order. Inspect it after Wait to see which hosts failed beyond the single
// aggregate code.
func (r *Runner) Remotes() []*Task { return r.remotes }

// RunAsync creates one Task per host and submits them all to the bounded
// pool. It blocks whenever the pool is saturated and returns once every
// host has been submitted, not once they are done. ctx bounds only the
// admission wait; running tasks are never cancelled through it.
func (r *Runner) RunAsync(ctx context.Context) error {
	r.pool = workerpool.NewPool[*Task](r.limit)
	r.log.Info("run starting",
		lg.Int("hosts", len(r.hosts)),
		lg.Int("forklimit", r.limit),
		lg.Strings("command", r.command))

	for host := range r.hosts {
		t := newTask(host, r.command, r.client, r.hooks, r.timeout, r.log)
		r.remotes = append(r.remotes, t)
		job := workerpool.Job[*Task]{
			Payload: t,
			Ctx:     ctx,
			Fn: func(task *Task) (err error) {
				defer func() {
					if p := recover(); p != nil {
						err = fmt.Errorf("task %s panicked: %v", task.Hostname(), p)
					}
					r.results <- taskResult{task: task, err: err}
				}()
				return task.run()
			},
		}
		if err := r.pool.Submit(job); err != nil {
			return fmt.Errorf("submit %s: %w", host, err)
		}
		r.pending++
	}
	return nil
}

// Wait blocks until every submitted task has finished, or the deadline
// passes (timeout > 0), or a task fails abnormally. Failures are
// fail-fast: the first task error is returned immediately while remaining
// hosts keep running. A timeout returns ErrWaitTimeout without cancelling
// anything, and Wait may be called again to pick up the rest. On full
// completion it returns the first non-zero exit code found in internal
// order, else 0. At most one failing host is reported; use Remotes for
// the full picture.
func (r *Runner) Wait(timeout time.Duration) (int, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for r.pending > 0 {
		select {
		case res := <-r.results:
			r.pending--
			if res.err != nil {
				return 0, fmt.Errorf("host %s: %w", res.task.Hostname(), res.err)
			}
		case <-deadline:
			return 0, ErrWaitTimeout
		}
	}
	r.stopPool()

	for _, t := range r.remotes {
		if rc := t.ExitCode(); rc != 0 {
			r.log.Info("run finished", lg.Int("rc", rc))
			return rc, nil
		}
	}
	r.log.Info("run finished", lg.Int("rc", 0))
	return 0, nil
}

func (r *Runner) stopPool() {
	r.stopOnce.Do(func() {
		if r.pool != nil {
			r.pool.Stop()
		}
	})
}
