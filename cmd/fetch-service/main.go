// fetch-service runs the download scheduler as a daemon.
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
		Use:   "fetch-service <config.yaml>",
		Short: "Scheduled download of ancillary files",
		Long: `fetch-service watches a YAML config of download rules and runs each
one on its cron schedule, isolated in its own worker process.`,
		Args:          cobra.ExactArgs(1),
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
			return s.Run()
		},
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
