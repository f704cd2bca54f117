// ABOUTME: TOML config loading for pond-chat from the XDG config directory.
// ABOUTME: Flags override file values; a missing file just means defaults.

package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	openpond "github.com/duckailabs/openpond-sdk"
)

type fileConfig struct {
	API   apiSection   `toml:"api"`
	Node  nodeSection  `toml:"node"`
	Agent agentSection `toml:"agent"`
}

type apiSection struct {
	URL          string `toml:"url"`
	Key          string `toml:"key"`
	UseSSE       bool   `toml:"use_sse"`
	PollInterval string `toml:"poll_interval"`
}

type nodeSection struct {
	Address    string `toml:"address"`
	ListenPort int    `toml:"listen_port"`
	Spawn      bool   `toml:"spawn"`
	BinaryPath string `toml:"binary_path"`
	ProtoPath  string `toml:"proto_path"`
}

type agentSection struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	Credential string `toml:"credential"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "openpond", "pond-chat.toml")
}

// loadFileConfig reads the TOML file into an SDK config. Any read or parse
// failure falls back to an empty config; flags still apply on top.
func loadFileConfig(path string) *openpond.Config {
	cfg := &openpond.Config{}
	if path == "" {
		return cfg
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return cfg
	}

	cfg.APIURL = fc.API.URL
	cfg.APIKey = fc.API.Key
	cfg.UseSSE = fc.API.UseSSE
	if fc.API.PollInterval != "" {
		if d, err := time.ParseDuration(fc.API.PollInterval); err == nil {
			cfg.PollInterval = d
		}
	}

	cfg.Address = fc.Node.Address
	cfg.ListenPort = fc.Node.ListenPort
	cfg.SpawnNode = fc.Node.Spawn
	cfg.BinaryPath = fc.Node.BinaryPath
	cfg.ProtoPath = fc.Node.ProtoPath

	cfg.AgentID = fc.Agent.ID
	cfg.AgentName = fc.Agent.Name
	cfg.Credential = fc.Agent.Credential
	return cfg
}
