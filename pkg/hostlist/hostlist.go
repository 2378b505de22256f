// Package hostlist gathers and deduplicates target hostnames from the
// sources a run can name: literal arguments, host files, known_hosts
// files, and the shared Mongo inventory.
package hostlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Set collects hostnames, dropping duplicates while keeping first-seen
// order so host listings stay reproducible for the caller.
type Set struct {
	seen  map[string]struct{}
	hosts []string
}

func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

func (s *Set) Add(host string) {
	if host == "" {
		return
	}
	if _, ok := s.seen[host]; ok {
		return
	}
	s.seen[host] = struct{}{}
	s.hosts = append(s.hosts, host)
}

func (s *Set) AddAll(hosts []string) {
	for _, h := range hosts {
		s.Add(h)
	}
}

// Hosts returns the collected hostnames in first-seen order.
func (s *Set) Hosts() []string {
	return append([]string(nil), s.hosts...)
}

func (s *Set) Len() int { return len(s.hosts) }

// lineFilter transforms one raw host-file line; returning "" drops it.
type lineFilter func(string) string

var hostFileFilters = []lineFilter{
	trimFilter,
	commentFilter,
	firstFieldFilter,
}

func trimFilter(line string) string { return strings.TrimSpace(line) }

func commentFilter(line string) string {
	if strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

// host files may carry trailing annotations ("web1  # rack 4"); only the
// first field is the hostname
func firstFieldFilter(line string) string {
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return line[:i]
	}
	return line
}

// ParseReader reads a host file: one host per line, blank lines and
// #-comments ignored, first whitespace-separated field wins.
func ParseReader(r io.Reader) ([]string, error) {
	var hosts []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		for _, f := range hostFileFilters {
			line = f(line)
			if line == "" {
				break
			}
		}
		if line != "" {
			hosts = append(hosts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan host list: %w", err)
	}
	return hosts, nil
}

// ParseFile reads a host file from path, with "-" meaning stdin.
func ParseFile(path string) ([]string, error) {
	if path == "-" {
		return ParseReader(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open host file: %w", err)
	}
	defer f.Close()
	hosts, err := ParseReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hosts, nil
}
