package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/corey/slnfix/internal/adapters/bbolt"
	"github.com/corey/slnfix/internal/adapters/socket"
	"github.com/corey/slnfix/internal/app"
	"github.com/corey/slnfix/internal/ports"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent fixes, newest first",
	Long:  "Reads the fix journal through the daemon, or directly from the database when no daemon is running.",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", socket.DefaultHistoryLimit, "maximum number of records")
}

func runHistory(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(projectRoot())
	if err != nil {
		return err
	}
	if historyLimit <= 0 {
		historyLimit = socket.DefaultHistoryLimit
	}

	var recs []ports.FixRecord
	client := socket.NewClient(socket.SocketPath(root))
	if client.Ping() {
		res, err := client.History(historyLimit)
		if err != nil {
			return err
		}
		recs = res.Records
	} else {
		recs, err = readJournal(root, historyLimit)
		if err != nil {
			return err
		}
	}

	fmt.Print(formatHistory(root, recs))
	return nil
}

// readJournal opens the database directly. Only safe while no daemon holds it.
func readJournal(root string, limit int) ([]ports.FixRecord, error) {
	paths := app.NewPaths(root)
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	store, err := bbolt.NewStore(paths.DB)
	if err != nil {
		if isDBLockError(err) {
			return nil, fmt.Errorf("%w\n%s", err, diagnoseDBLock(root))
		}
		return nil, err
	}
	defer store.Close()
	return store.Recent(filepath.Base(root), limit)
}
