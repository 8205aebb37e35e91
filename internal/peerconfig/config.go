// Package peerconfig parses the peer CLI surface from spec.md 6 into a
// structured Config, resolving the "id-to-endpoint mapping" open
// question (spec.md 9) explicitly instead of deriving ids from port
// numbers.
package peerconfig

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PeerAddr is one entry of the address book: another peer's id and the
// endpoint its RequestAccess/ReleaseAccess server listens on.
type PeerAddr struct {
	ID   int
	Addr string
}

// Config is the fully parsed, validated peer configuration.
type Config struct {
	ID          int
	ListenPort  string
	Peers       []PeerAddr
	PrinterAddr string
}

// Parse reads id/port/clients/server from args (excluding argv[0]) the
// way spec.md 6 requires:
//
//	-id       int, required
//	-port     string, required
//	-clients  comma-separated id=host:port pairs, required
//	-server   string, required
func Parse(progName string, args []string) (Config, error) {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)

	id := fs.Int("id", -1, "peer identifier")
	port := fs.String("port", "", "listen endpoint for inbound peer RPCs")
	clients := fs.String("clients", "", "comma-separated id=host:port list of every other peer")
	server := fs.String("server", "", "endpoint of the printer resource")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *id < 0 {
		return Config{}, errors.New("peerconfig: -id is required and must be >= 0")
	}
	if *port == "" {
		return Config{}, errors.New("peerconfig: -port is required")
	}
	if *server == "" {
		return Config{}, errors.New("peerconfig: -server is required")
	}
	clientsSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "clients" {
			clientsSet = true
		}
	})
	if !clientsSet {
		return Config{}, errors.New("peerconfig: -clients is required (an empty list means a single peer)")
	}

	peers, err := parseClients(*clients)
	if err != nil {
		return Config{}, errors.Wrap(err, "peerconfig: -clients")
	}

	for _, p := range peers {
		if p.ID == *id {
			return Config{}, errors.Errorf("peerconfig: -clients lists this peer's own id %d", *id)
		}
	}

	return Config{
		ID:          *id,
		ListenPort:  *port,
		Peers:       peers,
		PrinterAddr: *server,
	}, nil
}

// parseClients parses "1=host:9001,2=host:9002" into an ordered
// []PeerAddr. An empty string is valid and yields no peers (N=1).
func parseClients(raw string) ([]PeerAddr, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	entries := strings.Split(raw, ",")
	peers := make([]PeerAddr, 0, len(entries))
	seen := make(map[int]bool, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("malformed entry %q, want id=host:port", entry)
		}

		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "malformed peer id in %q", entry)
		}
		addr := strings.TrimSpace(parts[1])
		if addr == "" {
			return nil, errors.Errorf("missing address in %q", entry)
		}
		if seen[id] {
			return nil, errors.Errorf("duplicate peer id %d", id)
		}
		seen[id] = true

		peers = append(peers, PeerAddr{ID: id, Addr: addr})
	}

	return peers, nil
}

// Usage returns the CLI usage string, used by cmd/peer on parse errors.
func Usage(progName string) string {
	return fmt.Sprintf("usage: %s -id N -port PORT -clients id=host:port,... -server HOST:PORT", progName)
}
