package commands

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/op/go-logging.v1"

	"github.com/stalker-loki/braceratchet"
)

var (
	logLevel string
	log      *logging.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:           "otr4frame",
		Short:         "Inspect OTRv4 data messages and run local ratchet conversations",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.LogLevel(strings.ToUpper(logLevel))
			if err != nil {
				return err
			}
			log = braceratchet.NewLogger(os.Stderr, level)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "NOTICE", "log level (DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL)")

	root.AddCommand(decodeCmd(), demoCmd())
	return root.Execute()
}
