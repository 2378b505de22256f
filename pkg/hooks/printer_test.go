package hooks_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/gsh/pkg/config"
	"github.com/andrej220/gsh/pkg/hooks"
	"github.com/andrej220/gsh/pkg/lg"
	"github.com/andrej220/gsh/pkg/remote"
)

func TestPrinterPrefixesHostnames(t *testing.T) {
	var out, errOut bytes.Buffer
	p := hooks.NewPrinterTo(&out, &errOut, true)

	require.NoError(t, p.Notify("web1", remote.StreamStdout, []byte("hello")))
	require.NoError(t, p.Notify("web1", remote.StreamStderr, []byte("oops")))

	assert.Equal(t, "web1: hello\n", out.String())
	assert.Equal(t, "web1: oops\n", errOut.String())
}

func TestPrinterWithoutMachineNames(t *testing.T) {
	var out, errOut bytes.Buffer
	p := hooks.NewPrinterTo(&out, &errOut, false)

	require.NoError(t, p.Notify("web1", remote.StreamStdout, []byte("hello")))

	assert.Equal(t, "hello\n", out.String())
	assert.Zero(t, errOut.Len())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("tty gone") }

func TestPrinterReportsWriteFailure(t *testing.T) {
	p := hooks.NewPrinterTo(brokenWriter{}, brokenWriter{}, true)

	err := p.Notify("web1", remote.StreamStdout, []byte("hello"))
	assert.ErrorContains(t, err, "print web1 line")
}

func TestBuildHooks(t *testing.T) {
	cfg := config.Default()
	cfg.Hooks = []string{"printer", "kafka"}
	cfg.Kafka = config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "gsh.output"}

	built, err := hooks.Build(cfg, "run-1", lg.Discard)
	require.NoError(t, err)
	require.Len(t, built, 2)
	assert.IsType(t, &hooks.Printer{}, built[0])
	assert.IsType(t, &hooks.KafkaHook{}, built[1])
}

func TestBuildUnknownHook(t *testing.T) {
	cfg := config.Default()
	cfg.Hooks = []string{"teleport"}

	_, err := hooks.Build(cfg, "run-1", lg.Discard)
	assert.ErrorContains(t, err, `unknown hook "teleport"`)
}
