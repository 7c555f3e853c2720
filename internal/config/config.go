// Package config parses the process's external bootstrap surface,
// kept deliberately out of the protocol core: the two positional CLI
// capacity arguments, plus the peer list and listen address the
// transport substrate needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sincronizacion-distribuida/rooms-lifts/internal/protocol"
)

// Config is everything a peer process needs at startup that the core
// protocol treats as externally supplied.
type Config struct {
	Rooms int // R, first positional argument
	Lifts int // L, second positional argument

	Rank  int      // this process's index into Peers
	Peers []string // base URL of every peer, including self, ordered by rank

	ListenAddr string // address this process's HTTP transport binds
	MongoURI   string // empty disables the occupancy ledger
	MetricsOn  bool
}

// N is the peer count, taken from the transport substrate's group
// definition (the length of Peers).
func (c Config) N() int { return len(c.Peers) }

// Load parses args (normally os.Args[1:]) for the two positional
// capacity arguments and the environment for the rest of the group's
// bootstrap parameters. A *protocol.FatalError is returned on any
// missing or malformed field.
func Load(args []string) (Config, error) {
	var cfg Config

	rooms, lifts, err := parsePositional(args)
	if err != nil {
		return cfg, err
	}
	cfg.Rooms, cfg.Lifts = rooms, lifts

	peersRaw := os.Getenv("PEERS")
	if peersRaw == "" {
		return cfg, protocol.NewConfigError("PEERS must be set (comma-separated peer base URLs)")
	}
	for _, p := range strings.Split(peersRaw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		cfg.Peers = append(cfg.Peers, p)
	}
	if len(cfg.Peers) < 2 {
		return cfg, protocol.NewConfigError("PEERS must list at least two peers")
	}

	rankRaw := os.Getenv("RANK")
	if rankRaw == "" {
		return cfg, protocol.NewConfigError("RANK must be set")
	}
	rank, err := strconv.Atoi(rankRaw)
	if err != nil || rank < 0 || rank >= len(cfg.Peers) {
		return cfg, protocol.NewConfigError(fmt.Sprintf("RANK %q out of range for %d peers", rankRaw, len(cfg.Peers)))
	}
	cfg.Rank = rank

	cfg.ListenAddr = os.Getenv("LISTEN_ADDR")
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9000"
	}
	cfg.MongoURI = os.Getenv("MONGO_URI")
	cfg.MetricsOn = os.Getenv("METRICS_DISABLED") == ""

	if cfg.Rooms <= 0 || cfg.Lifts <= 0 {
		return cfg, protocol.NewConfigError("room and lift capacity must be positive")
	}
	return cfg, nil
}

func parsePositional(args []string) (rooms, lifts int, err error) {
	if len(args) < 2 {
		return 0, 0, protocol.NewConfigError("usage: peer <rooms> <lifts>")
	}
	rooms, err = strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, protocol.NewConfigError(fmt.Sprintf("rooms capacity %q is not numeric", args[0]))
	}
	lifts, err = strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, protocol.NewConfigError(fmt.Sprintf("lifts capacity %q is not numeric", args[1]))
	}
	return rooms, lifts, nil
}
