// ABOUTME: Interactive chat CLI over the OpenPond SDK, node or hosted-API transport.
// ABOUTME: Usage: pond-chat [-api https://...] [-addr localhost:50051] [-id agent-a] [lines: "<agent-id> <text>"]

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"

	openpond "github.com/duckailabs/openpond-sdk"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "TOML config file")
	apiURL := flag.String("api", "", "hosted API base URL (selects api mode)")
	addr := flag.String("addr", "", "node RPC address")
	agentID := flag.String("id", "", "agent ID")
	agentName := flag.String("name", "", "agent display name")
	spawn := flag.Bool("spawn", false, "spawn a local node process")
	sse := flag.Bool("sse", false, "use the SSE push feed instead of polling (api mode)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := loadFileConfig(*configPath)
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *addr != "" {
		cfg.Address = *addr
	}
	if *agentID != "" {
		cfg.AgentID = *agentID
	}
	if *agentName != "" {
		cfg.AgentName = *agentName
	}
	if *spawn {
		cfg.SpawnNode = true
	}
	if *sse {
		cfg.UseSSE = true
	}

	if err := run(cfg, logger); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *openpond.Config, logger *slog.Logger) error {
	client, err := openpond.New(cfg, openpond.WithLogger(logger))
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	client.OnMessage(func(m openpond.Message) {
		ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
		cyan.Printf("[%s] %s: ", ts, m.From)
		fmt.Println(m.Content)
	})
	client.OnError(func(err error) {
		yellow.Fprintf(os.Stderr, "! %v\n", err)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Stop()

	color.Green("connected as %s. \"<agent-id> <text>\" to send, /agents, /quit", client.AgentID())

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return nil
		case line == "/agents":
			printAgents(ctx, client)
		default:
			to, text, ok := strings.Cut(line, " ")
			if !ok {
				yellow.Println("usage: <agent-id> <text>")
				continue
			}
			if _, err := client.SendMessage(ctx, to, text); err != nil {
				color.Red("send failed: %v", err)
			}
		}
	}
	return scanner.Err()
}

func printAgents(ctx context.Context, client *openpond.Client) {
	green := color.New(color.FgGreen)

	if n := client.Node(); n != nil {
		agents, err := n.ListAgents(ctx)
		if err != nil {
			color.Red("list failed: %v", err)
			return
		}
		for _, a := range agents {
			green.Printf("%s", a.ID)
			fmt.Printf("  %s  peer=%s\n", a.Name, a.PeerID)
		}
		return
	}

	agents, err := client.API().ListAgents(ctx)
	if err != nil {
		color.Red("list failed: %v", err)
		return
	}
	for _, a := range agents {
		green.Printf("%s", a.Address)
		fmt.Printf("  %s  rep=%d\n", a.Name, a.Reputation)
	}
}
