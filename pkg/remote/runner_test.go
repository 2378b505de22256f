package remote_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrej220/gsh/pkg/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeClientScript(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

// collector counts lines per host.
type collector struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newCollector() *collector {
	return &collector{lines: make(map[string][]string)}
}

func (c *collector) Notify(host string, stream remote.StreamName, line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[host] = append(c.lines[host], string(line))
	return nil
}

type failingHook struct {
	err error
}

func (f *failingHook) Notify(string, remote.StreamName, []byte) error { return f.err }

func TestRunnerFanOutDeliversAllLines(t *testing.T) {
	client := writeClientScript(t, `shift; exec "$@"`)
	hook := newCollector()

	hosts := []string{"web1", "web2", "web3", "web1"} // one duplicate
	r := remote.NewRunner(hosts, []string{"sh", "-c", "echo hello"}, remote.Options{
		ForkLimit: 4,
		Client:    client,
		Hooks:     []remote.Hook{hook},
	})

	require.NoError(t, r.RunAsync(context.Background()))
	rc, err := r.Wait(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, rc)

	require.Len(t, r.Remotes(), 3)
	for _, task := range r.Remotes() {
		assert.Equal(t, remote.StatusSuccess, task.Status())
		assert.Equal(t, 0, task.ExitCode())
	}
	for _, host := range []string{"web1", "web2", "web3"} {
		assert.Equal(t, []string{"hello"}, hook.lines[host], "host %s", host)
	}
}

func TestRunnerFirstNonZeroExitCode(t *testing.T) {
	client := writeClientScript(t, `case "$1" in unlucky) exit 7 ;; esac; exit 0`)

	r := remote.NewRunner([]string{"alpha", "unlucky", "beta"}, []string{"true"}, remote.Options{
		ForkLimit: 3,
		Client:    client,
	})

	require.NoError(t, r.RunAsync(context.Background()))
	rc, err := r.Wait(10 * time.Second)
	require.NoError(t, err)
	// exactly one host fails, so first-found is deterministic here
	assert.Equal(t, 7, rc)

	var failed int
	for _, task := range r.Remotes() {
		if task.Status() == remote.StatusFailed {
			failed++
			assert.Equal(t, "unlucky", task.Hostname())
			assert.Equal(t, 7, task.ExitCode())
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRunnerConcurrencyBound(t *testing.T) {
	client := writeClientScript(t, `sleep 0.3`)

	hosts := []string{"h1", "h2", "h3", "h4", "h5", "h6"}
	r := remote.NewRunner(hosts, []string{"noop"}, remote.Options{
		ForkLimit: 2,
		Client:    client,
	})

	require.NoError(t, r.RunAsync(context.Background()))
	remotes := r.Remotes()

	var maxRunning int32
	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			var running int32
			for _, task := range remotes {
				if task.Status() == remote.StatusRunning {
					running++
				}
			}
			for {
				hw := atomic.LoadInt32(&maxRunning)
				if running <= hw || atomic.CompareAndSwapInt32(&maxRunning, hw, running) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	rc, err := r.Wait(30 * time.Second)
	close(stop)
	<-polled

	require.NoError(t, err)
	assert.Equal(t, 0, rc)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(2))
}

func TestRunnerWaitTimeoutIsSoft(t *testing.T) {
	client := writeClientScript(t, `sleep 1`)

	r := remote.NewRunner([]string{"slow1", "slow2"}, []string{"noop"}, remote.Options{
		ForkLimit: 2,
		Client:    client,
	})

	require.NoError(t, r.RunAsync(context.Background()))

	_, err := r.Wait(100 * time.Millisecond)
	require.ErrorIs(t, err, remote.ErrWaitTimeout)

	// tasks were not cancelled by the timeout
	var running int
	for _, task := range r.Remotes() {
		if task.Status() == remote.StatusRunning {
			running++
		}
	}
	assert.NotZero(t, running)

	rc, err := r.Wait(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, rc)
	for _, task := range r.Remotes() {
		assert.Equal(t, remote.StatusSuccess, task.Status())
	}
}

func TestRunnerEmptyHostSet(t *testing.T) {
	r := remote.NewRunner(nil, []string{"uptime"}, remote.Options{ForkLimit: 4})

	require.NoError(t, r.RunAsync(context.Background()))
	assert.Empty(t, r.Remotes())

	start := time.Now()
	rc, err := r.Wait(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, rc)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunnerHookFailureFailsFast(t *testing.T) {
	client := writeClientScript(t, `shift; exec "$@"`)
	boom := errors.New("relay down")

	r := remote.NewRunner([]string{"web1"}, []string{"sh", "-c", "echo line"}, remote.Options{
		ForkLimit: 1,
		Client:    client,
		Hooks:     []remote.Hook{&failingHook{err: boom}},
	})

	require.NoError(t, r.RunAsync(context.Background()))
	_, err := r.Wait(10 * time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, remote.StatusFailed, r.Remotes()[0].Status())
}
