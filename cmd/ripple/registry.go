package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/ripple/internal/registry"
)

var registryJSONOutput bool

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect index configuration",
}

var registryCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate an index descriptor file and print its fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegistryCheck,
}

func init() {
	registryCheckCmd.Flags().BoolVar(&registryJSONOutput, "json", false, "Output in JSON format")
	registryCmd.AddCommand(registryCheckCmd)
}

func runRegistryCheck(cmd *cobra.Command, args []string) error {
	reg, err := registry.LoadFile(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	roots := reg.Roots()

	if registryJSONOutput {
		return printJSON(out, map[string]any{
			"fingerprint": reg.FingerprintHex(),
			"queue":       "idx-" + reg.FingerprintHex(),
			"types":       reg.Types(),
			"roots":       roots,
		})
	}

	fmt.Fprintf(out, "Fingerprint: %s\n", reg.FingerprintHex())
	fmt.Fprintf(out, "Queue:       idx-%s\n", reg.FingerprintHex())
	fmt.Fprintf(out, "Types:       %d\n", len(reg.Types()))
	fmt.Fprintf(out, "Roots:       %s\n", strings.Join(roots, ", "))
	return nil
}
