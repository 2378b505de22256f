package hostlist

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ParseKnownHosts extracts plain hostnames from an OpenSSH known_hosts
// file. Hashed entries cannot be reversed and marker lines (@revoked,
// @cert-authority) do not name reachable hosts, so both are skipped.
// Bracketed [host]:port forms lose their brackets and port.
func ParseKnownHosts(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read known_hosts: %w", err)
	}

	var hosts []string
	rest := data
	for len(rest) > 0 {
		marker, entryHosts, _, _, next, err := ssh.ParseKnownHosts(rest)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse known_hosts %s: %w", path, err)
		}
		rest = next
		if marker != "" {
			continue
		}
		for _, h := range entryHosts {
			if strings.HasPrefix(h, "|") {
				continue
			}
			hosts = append(hosts, normalizeKnownHost(h))
		}
	}
	return hosts, nil
}

func normalizeKnownHost(h string) string {
	if strings.HasPrefix(h, "[") {
		if i := strings.Index(h, "]"); i > 0 {
			return h[1:i]
		}
	}
	return h
}
