package cmd

import (
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	debug      bool
	logLevel   string
	configPath string
	traceExp   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "runwire",
	Short: "Console client for project run channels",
	Long: `runwire connects to the WebSocket channel of a monitored project, the same
way the web console does: it performs the handshake, keeps the connection
alive across drops and shows the events the run emits.

Settings can be given on the command line or in an HCL file (--config).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "HCL configuration file")
	rootCmd.PersistentFlags().StringVar(&traceExp, "trace-exporter", "none", "trace exporter (none, stdout); stdout writes spans to stderr")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetDebug returns the debug flag value
func GetDebug() bool {
	return debug
}
