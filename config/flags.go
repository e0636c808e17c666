package config

import (
	"github.com/spf13/pflag"
)

// CLIFlags are the command-line options the core consumes. Programs embed
// janode and forward their argv here before opening a connection.
type CLIFlags struct {
	// LogLevel is the value of --janode-log:
	// none|error|warning|info|verbose|debug (warn and verb accepted).
	LogLevel string

	// DebugTx is --debug-tx: periodic transaction-table size logging.
	DebugTx bool
}

// ParseCLIFlags parses argv (without the program name). Unknown flags
// are errors, so embedding programs must hand over only the janode
// flags, not their whole command line.
func ParseCLIFlags(args []string) (CLIFlags, error) {
	fs := pflag.NewFlagSet("janode", pflag.ContinueOnError)

	logLevel := fs.String("janode-log", "info", "log level: none|error|warning|info|verbose|debug")
	debugTx := fs.Bool("debug-tx", false, "periodically log the transaction table size")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}
	return CLIFlags{LogLevel: *logLevel, DebugTx: *debugTx}, nil
}
