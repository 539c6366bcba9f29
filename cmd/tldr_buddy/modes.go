package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonyazhuuki/tldr-buddy/analysis"
	"github.com/tonyazhuuki/tldr-buddy/internal/logutil"
)

func newModesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modes",
		Short: "Inspect the analysis mode configuration",
	}
	cmd.PersistentFlags().String("modes-dir", "", "Directory of mode YAML files.")

	cmd.AddCommand(newModesListCmd())
	cmd.AddCommand(newModesValidateCmd())
	return cmd
}

func newModesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured modes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadModesStore(cmd)
			if err != nil {
				return err
			}
			all := store.All()
			if len(all) == 0 {
				fmt.Println("no modes configured")
				return nil
			}
			for _, mode := range store.Enabled() {
				fmt.Printf("%s\tenabled\tmodel=%s\n", mode.Name, mode.Model)
			}
			for name, mode := range all {
				if !mode.Enabled {
					fmt.Printf("%s\tdisabled\tmodel=%s\n", name, mode.Model)
				}
			}
			return nil
		},
	}
}

func newModesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the mode directory and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadModesStore(cmd); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func loadModesStore(cmd *cobra.Command) (*analysis.Store, error) {
	dir := flagOrViperString(cmd, "modes-dir", "modes.dir")
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	store := analysis.NewStore(dir, logger)
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}
