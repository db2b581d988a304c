// presence-monitor pretty-prints the JSON log of openwrt-presence:
//
//	docker logs -f openwrt-presence 2>&1 | presence-monitor
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("presence-monitor", pflag.ContinueOnError)
	utc := flags.Bool("utc", false, "Show times in UTC instead of local time")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: presence-monitor [options] < log\n\nOptions:\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}

	m := newMonitor(os.Stdout)
	if *utc {
		m.loc = nil
	}
	if err := m.run(os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
