/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playback/internal/db"
	"github.com/friendsincode/grimnir_playback/internal/session"
	"github.com/friendsincode/grimnir_playback/internal/store"
)

var positionsLimit int

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Inspect stored playback positions",
}

var positionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored positions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ps, closeStore, err := requirePositionStore()
		if err != nil {
			return err
		}
		defer closeStore()

		list, err := ps.List(cmd.Context(), positionsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "URI\tPOSITION\tDURATION\tENDED\tUPDATED")
		for _, p := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", p.ResourceURI, formatSeconds(p.Position), formatSeconds(p.Duration), p.Ended, p.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var positionsForgetCmd = &cobra.Command{
	Use:   "forget <uri>",
	Short: "Delete the stored position for a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, closeStore, err := requirePositionStore()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := ps.Delete(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no stored position for %s", args[0])
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
		return nil
	},
}

func init() {
	positionsListCmd.Flags().IntVar(&positionsLimit, "limit", 50, "maximum entries to show (0 for all)")
	positionsCmd.AddCommand(positionsListCmd, positionsForgetCmd)
	rootCmd.AddCommand(positionsCmd)
}

// openPositionStore connects the position store when persistence is
// configured. The returned store is nil otherwise.
func openPositionStore() (session.PositionStore, func(), error) {
	if !cfg.PersistenceEnabled() {
		return nil, func() {}, nil
	}
	ps, closeStore, err := connectStore()
	if err != nil {
		return nil, nil, err
	}
	return ps, closeStore, nil
}

func requirePositionStore() (*store.PositionStore, func(), error) {
	if err := loadConfig(); err != nil {
		return nil, nil, err
	}
	if !cfg.PersistenceEnabled() {
		return nil, nil, errors.New("position persistence is disabled; set GRIMNIR_DB_DSN")
	}
	return connectStore()
}

func connectStore() (*store.PositionStore, func(), error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := store.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, nil, err
	}
	closeFn := func() {
		if err := db.Close(database); err != nil {
			logger.Warn().Err(err).Msg("close database")
		}
	}
	return store.NewPositionStore(database), closeFn, nil
}
