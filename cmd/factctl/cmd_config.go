// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/factstream/services/facts/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := cli.configPath
	if configForce {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	if err := config.WriteDefault(path); err != nil {
		if errors.Is(err, os.ErrExist) {
			cli.out.Warning(path + " already exists; use --force to overwrite")
			return nil
		}
		return err
	}
	cli.out.Success("wrote " + path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	data, err := yaml.Marshal(cli.cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cli.out.Muted("# " + cli.configPath)
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
