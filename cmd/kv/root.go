package kv

import (
	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var log = logger.GetLogger(common.LogCLI)

// Commands are the row level commands. They are added to the root command.
var Commands = []*cobra.Command{
	getCmd,
	setCmd,
	deleteCmd,
	deleteCollectionCmd,
	keysCmd,
	importCmd,
	infoCmd,
	perfTestCmd,
}

func init() {
	setCmd.Flags().String("metadata", "", "Metadata of the row as JSON")
	keysCmd.Flags().Bool("count", false, "Only print the number of keys")
	importCmd.Flags().Int("batch", 1000, "Rows written per transaction")
}
