package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/chatscope/pkg/retrieval"
	"github.com/sw33tLie/chatscope/pkg/storage"
)

var listCmd = &cobra.Command{
	Use:   "list [date]",
	Short: "List stored messages of a day (YYYY-MM-DD, DD/MM/YYYY, today, yesterday)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := "today"
		if len(args) == 1 {
			input = args[0]
		}
		dirFlag, _ := cmd.Flags().GetString("direction")
		dir, err := storage.ParseDirection(dirFlag)
		if err != nil {
			return err
		}

		db, err := openExistingDB()
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := retrieval.ListMessages(context.Background(), db, input, dir, time.Now())
		if err != nil {
			return err
		}
		return retrieval.Render(os.Stdout, res, viper.GetBool("mask_senders"))
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringP("direction", "d", "any", "Message direction: incoming, outgoing or any")
}

// openExistingDB opens the configured database, refusing to create a new one.
func openExistingDB() (*storage.DB, error) {
	dbPath := dbPathFromConfig()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database file not found: %s", dbPath)
	}
	return storage.Open(dbPath)
}
