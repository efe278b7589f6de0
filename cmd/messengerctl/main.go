package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/messenger/internal/client"
	"github.com/matheus3301/messenger/internal/config"
	"github.com/matheus3301/messenger/internal/session"
	"github.com/spf13/cobra"
)

type globals struct {
	profile    string
	configPath string
	jsonOut    bool
	timeout    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "messengerctl",
		Short:         "Control a running messengerd profile",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.profile, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().StringVar(&g.configPath, "config", session.ConfigPath(), "path to config.toml")
	root.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		statusCmd(g),
		loginCmd(g),
		logoutCmd(g),
		usersCmd(g),
		searchCmd(g),
		existsCmd(g),
		openCmd(g),
		withCmd(g),
		sendCmd(g),
		photoCmd(g),
		videoCmd(g),
		deleteCmd(g),
		orphansCmd(g),
		watchCmd(g),
		profilesCmd(g),
	)
	return root
}

// resolveProfile applies the flag, then the configured default.
func (g *globals) resolveProfile() (string, error) {
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	name := session.Resolve(g.profile, cfg.DefaultProfile)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// dial returns a client for the profile's daemon and a request context.
func (g *globals) dial(cmd *cobra.Command) (*client.Client, context.Context, context.CancelFunc, error) {
	name, err := g.resolveProfile()
	if err != nil {
		return nil, nil, nil, err
	}
	c := client.New(session.SocketPath(name))
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	return c, ctx, func() {
		cancel()
		_ = c.Close()
	}, nil
}

func (g *globals) print(v any, human func()) {
	if g.jsonOut {
		outputJSON(v)
		return
	}
	human()
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
