package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/corey/slnfix/internal/adapters/socket"
	"github.com/corey/slnfix/internal/app"
	"github.com/corey/slnfix/internal/config"
	"github.com/spf13/cobra"
)

var configInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: "Shows project root, config, DB and socket paths, daemon status and the effective " +
		"config. With --init, writes the default config file. No daemon required.",
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configInit, "init", false, "write the default config file if none exists")
}

func runConfig(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(projectRoot())
	if err != nil {
		return err
	}
	paths := app.NewPaths(root)
	sockPath := socket.SocketPath(root)

	if configInit {
		return initConfig(paths)
	}

	cfg, err := config.Load(paths.Config)
	if err != nil {
		return err
	}

	daemonStatus := yellow("✗ not running")
	if socket.NewClient(sockPath).Ping() {
		daemonStatus = green("✓ running")
	}
	source := paths.Config
	if _, err := os.Stat(paths.Config); err != nil {
		source = gray("(defaults)")
	}

	fmt.Println(bold("⚡ slnfix config"))
	fmt.Printf("  Project:    %s\n", filepath.Base(root))
	fmt.Printf("  Root:       %s\n", root)
	fmt.Printf("  Config:     %s\n", source)
	fmt.Printf("  DB:         %s\n", paths.DB)
	fmt.Printf("  Socket:     %s\n", sockPath)
	fmt.Printf("  Daemon:     %s\n", daemonStatus)
	fmt.Println()
	return config.Encode(os.Stdout, cfg)
}

func initConfig(paths *app.Paths) error {
	if _, err := os.Stat(paths.Config); err == nil {
		fmt.Printf("⚡ config already exists at %s\n", paths.Config)
		return nil
	}
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	if err := config.Save(paths.Config, config.Default()); err != nil {
		return err
	}
	fmt.Printf("⚡ wrote %s\n", paths.Config)
	return nil
}
