package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

var AppVersion string

const usage = `Usage: clawd-node [--config FILE] [command]

Commands:
  run                                 connect to the gateway and serve invocations (default)
  keygen [--out FILE] [--force]       create a device identity
  gateway start|stop|restart|status   control the gateway host over SSH
  version                             print the version
`

func main() {
	flags := pflag.NewFlagSet("clawd-node", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	configFile := flags.StringP("config", "c", "", "path to application.yaml")
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}

	command, args := "run", flags.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var err error
	switch command {
	case "run":
		err = runNode(*configFile)
	case "keygen":
		err = runKeygen(args)
	case "gateway":
		err = runGatewayControl(*configFile, args)
	case "version":
		fmt.Println(versionString())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionString() string {
	if AppVersion == "" {
		return "clawd-node dev"
	}
	return "clawd-node " + AppVersion
}
