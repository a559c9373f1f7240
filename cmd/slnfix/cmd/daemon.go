package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/corey/slnfix/internal/adapters/socket"
	"github.com/corey/slnfix/internal/adapters/web"
	"github.com/corey/slnfix/internal/app"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the slnfix daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the foreground",
	Long:  "Starts watching the project root. SIGINT/SIGTERM stop the daemon, SIGHUP reloads its config.",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon's config and restart its watch",
	RunE:  runDaemonReload,
}

var (
	daemonHTTP     bool
	daemonHTTPPort int
)

func init() {
	daemonStartCmd.Flags().BoolVar(&daemonHTTP, "http", false, "also serve the JSON API on localhost")
	daemonStartCmd.Flags().IntVar(&daemonHTTPPort, "port", 0, "HTTP port (default: derived from the project root)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonReloadCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	sockPath := socket.SocketPath(root)

	client := socket.NewClient(sockPath)
	if client.Ping() {
		fmt.Println("⚡ daemon already running")
		return nil
	}

	paths := app.NewPaths(root)
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	logFile, err := os.OpenFile(paths.DaemonLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logFile.Close()

	a, err := app.New(app.Config{
		ProjectRoot: root,
		LogWriter:   io.MultiWriter(os.Stderr, logFile),
	})
	if err != nil {
		if isDBLockError(err) {
			return fmt.Errorf("%w\n%s", err, diagnoseDBLock(root))
		}
		return fmt.Errorf("init: %w", err)
	}

	if err := a.Start(); err != nil {
		a.Stop()
		return err
	}
	if err := paths.WritePID(os.Getpid()); err != nil {
		fmt.Fprintf(os.Stderr, "%s write pid: %v\n", yellow("warning:"), err)
	}
	defer paths.CleanEphemeral()

	fmt.Printf("⚡ slnfix daemon started at %s\n", sockPath)

	if daemonHTTP {
		port := daemonHTTPPort
		if port == 0 {
			port = web.DefaultPort(root)
		}
		httpSrv := web.NewServer(a, paths.HTTPPort)
		if err := httpSrv.Start(port); err != nil {
			fmt.Fprintf(os.Stderr, "%s http: %v\n", yellow("warning:"), err)
		} else {
			defer httpSrv.Stop()
			fmt.Printf("⚡ http api at %s\n", httpSrv.URL())
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := a.Reload(); err != nil {
					fmt.Fprintf(os.Stderr, "%s %v\n", red("reload failed:"), err)
				}
				continue
			}
		case <-a.Server.ShutdownCh():
		}
		break
	}

	fmt.Println("\n⚡ shutting down...")
	return a.Stop()
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	client := socket.NewClient(socket.SocketPath(projectRoot()))

	if !client.Ping() {
		fmt.Println("⚡ daemon is not running")
		return nil
	}

	if err := client.Shutdown(); err != nil {
		return err
	}

	fmt.Println("⚡ daemon stopped")
	return nil
}

func runDaemonReload(cmd *cobra.Command, args []string) error {
	client := socket.NewClient(socket.SocketPath(projectRoot()))

	if !client.Ping() {
		fmt.Println("⚡ daemon is not running")
		return nil
	}

	res, err := client.Reload()
	if err != nil {
		return err
	}

	watch := green("watching")
	if !res.Watching {
		watch = yellow("not watching")
	}
	fmt.Printf("⚡ config reloaded │ %s │ settle %s │ %s\n", plural(res.Rules, "rule", "rules"), res.Settle, watch)
	return nil
}
