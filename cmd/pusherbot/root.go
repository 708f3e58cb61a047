package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	envFile string
)

var rootCmd = &cobra.Command{
	Use:          "pusherbot",
	Short:        "Discord job board bot",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(deleteJobCmd)
	rootCmd.AddCommand(resetCmd)

	addGlobalFlags(rootCmd.PersistentFlags())
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&envFile, "env-file", "e", "", "Path to a dotenv file loaded before reading the environment")
}
