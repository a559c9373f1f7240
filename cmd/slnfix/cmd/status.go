package cmd

import (
	"fmt"

	"github.com/corey/slnfix/internal/adapters/socket"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := socket.NewClient(socket.SocketPath(projectRoot()))

	if !client.Ping() {
		fmt.Println("⚡ slnfix daemon is not running")
		return nil
	}

	st, err := client.Status()
	if err != nil {
		return err
	}

	fmt.Print(formatStatus(st))
	return nil
}
