package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/forgeai/engine/internal/config"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "validate config, credentials, and the sandbox without running a turn",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ok := true
	check := func(name string, err error) {
		if err != nil {
			fmt.Printf("[FAIL] %s: %v\n", name, err)
			ok = false
			return
		}
		fmt.Printf("[ OK ] %s\n", name)
	}

	cfg, err := config.Load(configFlag)
	check("load config", err)
	if err != nil {
		return fmt.Errorf("forge doctor: cannot continue without a config")
	}

	_, providerErr := selectProvider(cfg)
	check(fmt.Sprintf("provider for model %q", cfg.App.Model), providerErr)

	dataDir, dataErr := config.DataDir()
	check("data directory", dataErr)

	if dataErr == nil {
		probe := dataDir + "/.doctor-probe"
		writeErr := os.WriteFile(probe, []byte("ok"), 0o600)
		check("data directory writable", writeErr)
		if writeErr == nil {
			_ = os.Remove(probe)
		}
	}

	if len(cfg.Tools.Sandbox.AllowedRoots) == 0 {
		check("sandbox allowed_roots configured", fmt.Errorf("empty"))
	} else {
		check("sandbox allowed_roots configured", nil)
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("[ OK ] stdin is a terminal: interactive approval prompts will work")
	} else {
		fmt.Println("[WARN] stdin is not a terminal: approval requests will be denied and crash recovery will discard")
	}

	if !ok {
		return fmt.Errorf("forge doctor: one or more checks failed")
	}
	fmt.Println("all checks passed")
	return nil
}
