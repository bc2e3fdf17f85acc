// userauth serves the user registration and token authentication API.
//
// Configuration comes from USERAUTH_* environment variables; the flags
// below override the most commonly changed ones.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"userauth/cmd/internal/app"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var o app.Overrides

	flagSet := pflag.NewFlagSet("userauth", pflag.ContinueOnError)
	flagSet.StringVar(&o.HTTPAddr, "addr", "", "listen address (overrides USERAUTH_HTTP_ADDR)")
	flagSet.StringVar(&o.LogLevel, "log-level", "", "debug, info, warn or error (overrides USERAUTH_LOG_LEVEL)")
	flagSet.StringVar(&o.LogFormat, "log-format", "", "json or pretty (overrides USERAUTH_LOG_FORMAT)")
	help := flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if *help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected arguments: %v", rest)
	}

	return app.Run(o)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: userauth [flags]\n\nFlags:\n")
	flagSet.PrintDefaults()
}
