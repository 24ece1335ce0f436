package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var askK int

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.Chat.Answer(ctx, strings.Join(args, " "), askK)
	if err != nil {
		return err
	}
	cmd.Println(answer)
	return nil
}
