// Package config loads bgpconnd's configuration: a small JSON document
// (listen address, peer list, hold/keepalive defaults) plus environment
// variable overrides. Buffer sizes are not configurable. Configuration,
// CLI and socket establishment are explicitly out of the connection core's scope
// (spec.md §1); this package is the ambient stack a real daemon around the
// core still needs.
package config

import (
	"fmt"
	"os"

	"github.com/buger/jsonparser"
	"github.com/spf13/cast"
)

// Peer is one configured BGP peer.
type Peer struct {
	Host                   string
	Addr                   string
	HoldTimerInterval      uint16
	KeepaliveTimerInterval uint16
}

// Config is bgpconnd's fully resolved configuration.
type Config struct {
	ListenAddr             string
	HoldTimerInterval      uint16
	KeepaliveTimerInterval uint16
	Peers                  []Peer
}

const (
	defaultHoldInterval      = 90
	defaultKeepaliveInterval = 30
)

// Default returns a Config with the RFC 4271 §4.2 suggested defaults and no
// peers.
func Default() Config {
	return Config{
		ListenAddr:             ":179",
		HoldTimerInterval:      defaultHoldInterval,
		KeepaliveTimerInterval: defaultKeepaliveInterval,
	}
}

// Load parses a JSON document of the shape:
//
//	{
//	  "listen_addr": ":179",
//	  "hold_timer_interval": 90,
//	  "keepalive_timer_interval": 30,
//	  "peers": [
//	    {"host": "peer-a", "addr": "10.0.0.1:179"}
//	  ]
//	}
//
// using jsonparser for zero-allocation field extraction, the teacher's
// msg/attrs convention, followed by spf13/cast to coerce whatever scalar
// shape each field arrived in (a number, a numeric string, ...) into the
// typed field. Fields absent from data keep Default()'s values.
func Load(data []byte) (Config, error) {
	cfg := Default()

	if v, _, _, err := jsonparser.Get(data, "listen_addr"); err == nil {
		cfg.ListenAddr = string(v)
	} else if err != jsonparser.KeyPathNotFoundError {
		return Config{}, fmt.Errorf("config: listen_addr: %w", err)
	}

	if interval, err := getUint16(data, "hold_timer_interval"); err == nil {
		cfg.HoldTimerInterval = interval
	} else if err != jsonparser.KeyPathNotFoundError {
		return Config{}, fmt.Errorf("config: hold_timer_interval: %w", err)
	}

	if interval, err := getUint16(data, "keepalive_timer_interval"); err == nil {
		cfg.KeepaliveTimerInterval = interval
	} else if err != jsonparser.KeyPathNotFoundError {
		return Config{}, fmt.Errorf("config: keepalive_timer_interval: %w", err)
	}

	_, err := jsonparser.ArrayEach(data, func(peerData []byte, _ jsonparser.ValueType, _ int, _ error) {
		peer := Peer{
			HoldTimerInterval:      cfg.HoldTimerInterval,
			KeepaliveTimerInterval: cfg.KeepaliveTimerInterval,
		}
		if v, err := jsonparser.GetString(peerData, "host"); err == nil {
			peer.Host = v
		}
		if v, err := jsonparser.GetString(peerData, "addr"); err == nil {
			peer.Addr = v
		}
		if interval, err := getUint16(peerData, "hold_timer_interval"); err == nil {
			peer.HoldTimerInterval = interval
		}
		if interval, err := getUint16(peerData, "keepalive_timer_interval"); err == nil {
			peer.KeepaliveTimerInterval = interval
		}
		cfg.Peers = append(cfg.Peers, peer)
	}, "peers")
	if err != nil && err != jsonparser.KeyPathNotFoundError {
		return Config{}, fmt.Errorf("config: peers: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// getUint16 extracts a field that may be encoded as a JSON number or a
// numeric string (a common config-file sloppiness) and coerces it with
// spf13/cast, rather than requiring jsonparser's own strict numeric typing.
func getUint16(data []byte, key string) (uint16, error) {
	v, typ, _, err := jsonparser.Get(data, key)
	if err != nil {
		return 0, err
	}
	var raw any
	switch typ {
	case jsonparser.Number:
		raw = string(v)
	case jsonparser.String:
		raw = string(v)
	default:
		return 0, fmt.Errorf("config: %s: unexpected JSON type %v", key, typ)
	}
	n, err := cast.ToUint16E(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// applyEnvOverrides lets BGPCONND_LISTEN_ADDR / BGPCONND_HOLD_TIMER /
// BGPCONND_KEEPALIVE_TIMER override the JSON document, using cast for the
// same loose coercion env vars always need (they are strings by nature).
func (c *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv("BGPCONND_LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := os.LookupEnv("BGPCONND_HOLD_TIMER"); ok {
		if n, err := cast.ToUint16E(v); err == nil {
			c.HoldTimerInterval = n
		}
	}
	if v, ok := os.LookupEnv("BGPCONND_KEEPALIVE_TIMER"); ok {
		if n, err := cast.ToUint16E(v); err == nil {
			c.KeepaliveTimerInterval = n
		}
	}
}
