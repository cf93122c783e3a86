package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/EternisAI/clawd-node/internal/identity"
	"github.com/spf13/pflag"
)

func runKeygen(args []string) error {
	home, _ := os.UserHomeDir()
	fs := pflag.NewFlagSet("keygen", pflag.ExitOnError)
	out := fs.String("out", filepath.Join(home, ".clawdbot", "identity", "device.json"), "Identity file to write")
	force := fs.Bool("force", false, "Overwrite an existing identity")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to replace it)", *out)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", *out, err)
	}

	ident, err := identity.Generate()
	if err != nil {
		return err
	}
	if err := ident.Save(*out); err != nil {
		return err
	}

	fmt.Printf("Device identity written to %s\n", *out)
	fmt.Printf("Device ID: %s\n", ident.DeviceID)
	return nil
}
