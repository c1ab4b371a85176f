// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Command strata provides introspection tools for the version metadata of a
// strata store.
package main

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/stratadb/strata/manifest"
)

var dumpJSON bool

var rootCmd = &cobra.Command{
	Use:   "strata [command] (flags)",
	Short: "strata version-metadata introspection tool",
	Long:  ``,
}

var editDumpCmd = &cobra.Command{
	Use:   "edit-dump <file> [<file>...]",
	Short: "print the version edits stored in the given files",
	Long: `
Print the version edits stored in the given files, one encoded edit per file,
in a human readable format. With --json, print each edit as a JSON object
instead.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEditDump,
}

func runEditDump(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		data, err := os.ReadFile(arg)
		if err != nil {
			return err
		}
		var ve manifest.VersionEdit
		if err := ve.Decode(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", arg)
		if dumpJSON {
			fmt.Fprintln(cmd.OutOrStdout(), ve.DebugJSON())
		} else {
			fmt.Fprint(cmd.OutOrStdout(), ve.String())
		}
	}
	return nil
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	editDumpCmd.Flags().BoolVar(&dumpJSON, "json", false, "print edits as JSON")
	rootCmd.AddCommand(editDumpCmd)

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error.
		os.Exit(1)
	}
}
