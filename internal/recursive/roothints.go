package recursive

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
)

// RootServer is one entry from a root hints file.
type RootServer struct {
	Name string
	IP   net.IP
}

// LoadRootHints parses a BIND-style named.root hints file: lines of
// "NAME  TTL  CLASS  TYPE  RDATA", ignoring comments (';') and blank lines.
// Only A records are consumed; AAAA is ignored (IPv6 roots are out of scope).
func LoadRootHints(path string) ([]RootServer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recursive: open root hints: %w", err)
	}
	defer f.Close()

	var servers []RootServer
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		rtype := strings.ToUpper(fields[len(fields)-2])
		if rtype != "A" {
			continue
		}
		ip := net.ParseIP(fields[len(fields)-1])
		if ip == nil {
			continue
		}
		servers = append(servers, RootServer{
			Name: strings.ToLower(strings.TrimSuffix(fields[0], ".")),
			IP:   ip,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("recursive: scan root hints: %w", err)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("recursive: no usable root servers in %s", path)
	}
	return servers, nil
}

// DefaultRootServers is a small built-in fallback used when no hints file is
// configured, covering a handful of the IANA root servers.
func DefaultRootServers() []RootServer {
	return []RootServer{
		{Name: "a.root-servers.net", IP: net.ParseIP("198.41.0.4")},
		{Name: "b.root-servers.net", IP: net.ParseIP("199.9.14.201")},
		{Name: "c.root-servers.net", IP: net.ParseIP("192.33.4.12")},
		{Name: "d.root-servers.net", IP: net.ParseIP("199.7.91.13")},
		{Name: "e.root-servers.net", IP: net.ParseIP("192.203.230.10")},
		{Name: "f.root-servers.net", IP: net.ParseIP("192.5.5.241")},
	}
}
