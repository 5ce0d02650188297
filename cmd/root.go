package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/eKV/cmd/ext"
	"github.com/ValentinKolb/eKV/cmd/kv"
	"github.com/ValentinKolb/eKV/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ekv",
		Short: "embedded transactional key-value store",
		Long: fmt.Sprintf(`eKV (v%s)

An embedded, transactional key-value store written in Go. Views, relationships
and secondary indexes declared in an extensions file stay consistent with the
rows of every committed transaction.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of eKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("eKV v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Flags
	util.SetupStoreFlags(RootCmd)

	// Add Commands
	RootCmd.AddCommand(kv.Commands...)
	RootCmd.AddCommand(ext.Commands...)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
