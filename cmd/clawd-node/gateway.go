package main

import (
	"context"
	"fmt"
	"os"

	"github.com/EternisAI/clawd-node/internal/gatewayctl"
)

func runGatewayControl(configFile string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clawd-node gateway start|stop|restart|status")
	}
	action, err := gatewayctl.ParseAction(args[0])
	if err != nil {
		return err
	}

	InitConfig(configFile)
	ctl, err := gatewayctl.New(currentConfig().SSH)
	if err != nil {
		return err
	}

	res, err := ctl.Run(context.Background(), action)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)
	if res.ExitCode != 0 {
		return fmt.Errorf("gateway %s exited with status %d", action, res.ExitCode)
	}
	return nil
}
