package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print how many incoming messages were stored today",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openExistingDB()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.CountTodayIncoming(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
}
