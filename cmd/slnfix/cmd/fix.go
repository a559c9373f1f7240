package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/corey/slnfix/internal/adapters/socket"
	"github.com/corey/slnfix/internal/app"
	"github.com/spf13/cobra"
)

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Run a full fix pass now",
	Long: "Fixes the solution file and every project file in the project root. " +
		"Goes through the daemon when it is running, otherwise runs in-process.",
	RunE: runFix,
}

func runFix(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(projectRoot())
	if err != nil {
		return err
	}

	var res *socket.FixResult
	client := socket.NewClient(socket.SocketPath(root))
	if client.Ping() {
		res, err = client.Fix()
		if err != nil {
			return err
		}
	} else {
		out, err := app.RunOnce(app.Config{ProjectRoot: root})
		if isDBLockError(err) {
			return fmt.Errorf("%w\n%s", err, diagnoseDBLock(root))
		}
		if err != nil && len(out.Errors) == 0 {
			return err
		}
		res = &out
	}

	fmt.Print(formatFixResult(root, res))
	if len(res.Errors) > 0 {
		return fmt.Errorf("%s", plural(len(res.Errors), "file failed", "files failed"))
	}
	return nil
}
