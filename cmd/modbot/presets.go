package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"modbot/internal/bot"
	"modbot/internal/config"
	"modbot/internal/lockfile"
	"modbot/internal/preset"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Inspect preset files without connecting to Discord",
}

var presetsListCmd = &cobra.Command{
	Use:   "list <command>",
	Short: "List the presets of a command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := toolSetup()
		if err != nil {
			return err
		}
		namespace, _ := cmd.Flags().GetString("namespace")
		withOlds, _ := cmd.Flags().GetBool("with-olds")
		if namespace != string(preset.Info) && namespace != string(preset.Data) {
			return fmt.Errorf("unknown namespace %q", namespace)
		}

		store := preset.NewStore(cfg.PresetsDir, preset.Namespace(namespace), args[0], newLocker(cfg), logger)
		entries, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if !withOlds {
			entries = preset.FilterActive(entries)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "UUID\tNAME")
		for _, entry := range entries {
			fmt.Fprintf(w, "%s\t%s\n", entry.UUID, entry.Name)
		}
		return w.Flush()
	},
}

var presetsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every preset file parses and info matches data",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := toolSetup()
		if err != nil {
			return err
		}
		locker := newLocker(cfg)
		out := cmd.OutOrStdout()

		var problems int
		for _, command := range bot.PresetCommands {
			info, err := preset.NewStore(cfg.PresetsDir, preset.Info, command, locker, logger).List(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "%s info: %v\n", command, err)
				problems++
				continue
			}
			data, err := preset.NewStore(cfg.PresetsDir, preset.Data, command, locker, logger).List(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "%s data: %v\n", command, err)
				problems++
				continue
			}
			for _, missing := range missingUUIDs(info, data) {
				fmt.Fprintf(out, "%s: preset %s has no data\n", command, missing)
				problems++
			}
			for _, missing := range missingUUIDs(data, info) {
				fmt.Fprintf(out, "%s: data %s has no preset\n", command, missing)
				problems++
			}
			fmt.Fprintf(out, "%s: %d presets\n", command, len(info))
		}
		if problems > 0 {
			return fmt.Errorf("%d problems found", problems)
		}
		return nil
	},
}

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Manage lock files",
}

var locksCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove lock files left behind by a crashed process",
	Long:  "Remove lock files left behind by a crashed process. Only run this while the bot is stopped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := toolSetup()
		if err != nil {
			return err
		}
		seen := make(map[string]struct{})
		for _, dir := range []string{cfg.DataDir, cfg.PresetsDir} {
			removed, err := lockfile.Clean(dir)
			if err != nil {
				return err
			}
			for _, path := range removed {
				if _, ok := seen[path]; ok {
					continue
				}
				seen[path] = struct{}{}
				fmt.Fprintln(cmd.OutOrStdout(), "removed", path)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or config.yaml)")

	presetsListCmd.Flags().String("namespace", string(preset.Info), "info or data")
	presetsListCmd.Flags().Bool("with-olds", false, "include soft deleted presets")
	presetsCmd.AddCommand(presetsListCmd, presetsVerifyCmd)
	locksCmd.AddCommand(locksCleanCmd)
	rootCmd.AddCommand(presetsCmd, locksCmd)
}

// toolSetup loads the config without requiring a token.
func toolSetup() (config.Config, *zap.Logger, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := config.BuildLogger(config.LogConfig{Level: "warn"})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func missingUUIDs(from, in []preset.Entry) []string {
	known := make(map[string]struct{}, len(in))
	for _, entry := range in {
		known[entry.UUID] = struct{}{}
	}
	var missing []string
	for _, entry := range from {
		if _, ok := known[entry.UUID]; !ok {
			missing = append(missing, entry.UUID)
		}
	}
	return missing
}
