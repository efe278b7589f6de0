package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/messenger/internal/config"
	"github.com/matheus3301/messenger/internal/daemon"
	"github.com/matheus3301/messenger/internal/session"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", session.ConfigPath(), "path to config.toml")
	envFlag := flag.String("env", ".env", "dotenv file applied before the environment")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag, *envFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	profile := session.Resolve(*profileFlag, cfg.DefaultProfile)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile, Config: cfg}),
	)

	app.Run()
}
