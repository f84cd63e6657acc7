package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/availwatch/internal/flagx"
)

// parseFlags overlays command-line flags onto config.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g. ":8080")
//	-d string     PostgreSQL DSN
//	-u string     upstream status API URL
//	-i duration   poll interval (e.g. "5m")
//	-k int        measurement retention in days
//	-f string     log format, json or console
//	-l string     log level
//
// Arguments owned by other parsers, such as -c, are filtered out first.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-u", "-i", "-k", "-f", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StatusAPIURL, "u", config.StatusAPIURL, "status API URL")
	fs.DurationVar(&config.PollInterval, "i", config.PollInterval, "poll interval")
	fs.IntVar(&config.KeepDays, "k", config.KeepDays, "measurement retention in days")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format (json|console)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	return fs.Parse(args)
}
