// Package hooks wires output sinks onto a run. Each hook sees every
// line of remote output in arrival order.
package hooks

import (
	"fmt"
	"io"

	"github.com/andrej220/gsh/pkg/config"
	"github.com/andrej220/gsh/pkg/lg"
	"github.com/andrej220/gsh/pkg/remote"
)

// Build instantiates the hooks cfg names, in order.
func Build(cfg config.Config, runID string, log lg.Logger) ([]remote.Hook, error) {
	hooks := make([]remote.Hook, 0, len(cfg.Hooks))
	for _, name := range cfg.Hooks {
		switch name {
		case "printer":
			hooks = append(hooks, NewPrinter(cfg.PrintMachines))
		case "kafka":
			hooks = append(hooks, NewKafkaHook(cfg.Kafka, runID, log))
		default:
			return nil, fmt.Errorf("unknown hook %q", name)
		}
	}
	return hooks, nil
}

// CloseAll closes every hook that holds external resources.
func CloseAll(hooks []remote.Hook, log lg.Logger) {
	for _, h := range hooks {
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn("closing hook", lg.Err(err))
			}
		}
	}
}
