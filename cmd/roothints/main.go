// Command roothints loads and validates a BIND-style named.root hints file,
// reporting the usable root servers it parses (or the built-in defaults if
// none is given).
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/jroosing/hydradns/internal/recursive"
)

func main() {
	var (
		path  = flag.String("file", "", "Path to a named.root hints file (uses built-in defaults if empty)")
		quiet = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
	)
	flag.Parse()

	servers, err := load(*path)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "roothints error: %v\n", err)
		}
		os.Exit(1)
	}
	if *quiet {
		return
	}

	rows := make([]string, 0, len(servers))
	for _, s := range servers {
		rows = append(rows, fmt.Sprintf("%-24s %s", s.Name, s.IP))
	}
	sort.Strings(rows)
	fmt.Printf("%d usable root server(s)\n", len(servers))
	for _, row := range rows {
		fmt.Println(row)
	}
}

func load(path string) ([]recursive.RootServer, error) {
	if path == "" {
		return recursive.DefaultRootServers(), nil
	}
	return recursive.LoadRootHints(path)
}
