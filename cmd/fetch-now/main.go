// fetch-now triggers named rules from the config immediately, without
// waiting for their schedule.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neodata/fetchd/fetch/daemon"
	_ "github.com/neodata/fetchd/source/all"
)

var verbose bool

func main() {
	// Worker re-executions of this binary skip the CLI entirely.
	if daemon.IsWorker() {
		os.Exit(daemon.WorkerMain())
	}

	root := &cobra.Command{
		Use:           "fetch-now <config.yaml> <rule>...",
		Short:         "Run configured download rules once, right now",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			s, err := daemon.New(args[0])
			if err != nil {
				return err
			}
			return s.RunRules(args[1:]...)
		},
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
