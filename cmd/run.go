package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/zicklaa/zicklaabot/zicklaabot"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the ZicklaaBot bot and status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := zicklaabot.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running bot: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
