// gsh runs one command on many hosts at once, multiplexing every line
// of remote output onto the local terminal as it arrives.
//
// Hosts come from repeatable -m flags, host files (-f, "-" reads
// stdin), known_hosts files (-k), and inventory groups (-g);
// duplicates across all sources collapse. Everything after the flags
// is the command to run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andrej220/gsh/pkg/config"
	"github.com/andrej220/gsh/pkg/hooks"
	"github.com/andrej220/gsh/pkg/hostlist"
	"github.com/andrej220/gsh/pkg/lg"
	"github.com/andrej220/gsh/pkg/persistence"
	"github.com/andrej220/gsh/pkg/remote"
)

const serviceName = "gsh"

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type cliArgs struct {
	machines    multiFlag
	hostFiles   multiFlag
	knownHosts  multiFlag
	groups      multiFlag
	hookNames   multiFlag
	serial      bool
	noNames     bool
	reportPath  string
	writeConfig string
	debug       bool
	logFormat   string
	command     []string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		return 1
	}

	var args cliArgs
	fs := flag.NewFlagSet(serviceName, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [options] command...\n", serviceName)
		fs.PrintDefaults()
	}
	fs.Var(&args.machines, "m", "target hostname (repeatable)")
	fs.Var(&args.hostFiles, "f", `host file, one hostname per line ("-" reads stdin; repeatable)`)
	fs.Var(&args.knownHosts, "k", "ssh known_hosts file to take hostnames from (repeatable)")
	fs.Var(&args.groups, "g", "inventory host group (repeatable)")
	fs.Var(&args.hookNames, "hook", "output hook to attach, overriding the configured set (repeatable)")
	fs.IntVar(&cfg.ForkLimit, "l", cfg.ForkLimit, "maximum simultaneous connections")
	fs.IntVar(&cfg.Timeout, "t", cfg.Timeout, "seconds to wait for all hosts (0 waits forever)")
	fs.StringVar(&cfg.Client, "client", cfg.Client, "remote execution client")
	fs.BoolVar(&args.serial, "serial", false, "run hosts one at a time")
	fs.BoolVar(&args.noNames, "n", false, "do not prefix output lines with machine names")
	fs.StringVar(&args.reportPath, "o", cfg.Output, "write a JSON run report to this file")
	fs.StringVar(&args.writeConfig, "write-config", "", "write the effective configuration to this file and exit")
	fs.BoolVar(&args.debug, "debug", false, "enable debug logging")
	fs.StringVar(&args.logFormat, "log-format", "console", "json or console")
	fs.Parse(argv)
	args.command = fs.Args()

	if args.serial {
		cfg.Concurrent = false
	}
	if args.noNames {
		cfg.PrintMachines = false
	}
	if len(args.hookNames) > 0 {
		cfg.Hooks = append([]string(nil), args.hookNames...)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid configuration: %v\n", serviceName, err)
		return 1
	}

	if args.writeConfig != "" {
		if err := cfg.Save(args.writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
			return 1
		}
		return 0
	}

	if len(args.command) == 0 {
		fmt.Fprintf(os.Stderr, "%s: no command given\n", serviceName)
		fs.Usage()
		return 2
	}

	hosts, err := gatherHosts(cfg, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		return 1
	}
	if hosts.Len() == 0 {
		fmt.Fprintf(os.Stderr, "%s: no hosts given\n", serviceName)
		fs.Usage()
		return 2
	}

	logger := lg.New(&lg.Config{ServiceName: serviceName, Debug: args.debug, Format: args.logFormat})
	defer logger.Sync()

	runID := uuid.NewString()
	built, err := hooks.Build(cfg, runID, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		return 1
	}
	defer hooks.CloseAll(built, logger)

	runner := remote.NewRunner(hosts.Hosts(), args.command, remote.Options{
		ForkLimit: cfg.EffectiveForkLimit(),
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		Hooks:     built,
		Client:    cfg.Client,
		Logger:    logger,
		RunID:     runID,
	})

	startedAt := time.Now()
	ctx := lg.Attach(context.Background(), logger)
	if err := runner.RunAsync(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		return 1
	}
	rc, waitErr := runner.Wait(time.Duration(cfg.Timeout) * time.Second)

	if args.reportPath != "" {
		agg := rc
		if waitErr != nil {
			agg = 1
		}
		report := persistence.BuildReport(runID, args.command, taskViews(runner.Remotes()), startedAt, time.Now(), agg)
		if err := persistence.WriteReport(report, args.reportPath); err != nil {
			logger.Error("writing report", lg.Err(err))
			if rc == 0 {
				rc = 1
			}
		}
	}

	switch {
	case errors.Is(waitErr, remote.ErrWaitTimeout):
		fmt.Fprintf(os.Stderr, "%s: timed out after %ds with hosts still running\n", serviceName, cfg.Timeout)
		return 1
	case waitErr != nil:
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, waitErr)
		return 1
	}
	return rc
}

func gatherHosts(cfg config.Config, args cliArgs) (*hostlist.Set, error) {
	set := hostlist.NewSet()
	set.AddAll(args.machines)
	for _, path := range args.hostFiles {
		hosts, err := hostlist.ParseFile(path)
		if err != nil {
			return nil, err
		}
		set.AddAll(hosts)
	}
	for _, path := range args.knownHosts {
		hosts, err := hostlist.ParseKnownHosts(path)
		if err != nil {
			return nil, err
		}
		set.AddAll(hosts)
	}
	if len(args.groups) > 0 && cfg.Inventory.URI == "" {
		return nil, errors.New("inventory is not configured; set inventory.uri")
	}
	for _, group := range args.groups {
		hosts, err := hostlist.FromInventory(cfg.Inventory, group)
		if err != nil {
			return nil, err
		}
		set.AddAll(hosts)
	}
	return set, nil
}

func taskViews(tasks []*remote.Task) []persistence.TaskView {
	views := make([]persistence.TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, t)
	}
	return views
}
