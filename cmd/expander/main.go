package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/expander/internal/config"
	"github.com/memohai/expander/internal/link"
	"github.com/memohai/expander/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "expander",
	Short: "Discord message link expander",
	Long:  "expander watches Discord channels for links to other messages and replies with an embed summarising the linked message.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe(config.ResolvePath(cfgFile))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.toml or $CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the gateway and expand message links",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(config.ResolvePath(cfgFile))
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "expander %s\n", version.GetInfo())
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath(cfgFile)
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			printConfigSummary(cmd, path, cfg)
			return nil
		},
	})
	return cmd
}

// loadConfig reads .env, the config file and the environment, then validates.
func loadConfig(path string) (config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func printConfigSummary(cmd *cobra.Command, path string, cfg config.Config) {
	out := cmd.OutOrStdout()
	hosts := cfg.Expander.LinkHosts
	if len(hosts) == 0 {
		hosts = link.DefaultHosts
	}
	concurrency := "unbounded"
	if cfg.Expander.MaxConcurrency > 0 {
		concurrency = fmt.Sprint(cfg.Expander.MaxConcurrency)
	}
	server := "disabled"
	if cfg.Server.Enabled {
		server = cfg.Server.Addr
	}
	fmt.Fprintf(out, "config:        %s\n", path)
	fmt.Fprintf(out, "token:         %s\n", maskToken(cfg.Discord.Token))
	fmt.Fprintf(out, "log:           %s/%s\n", cfg.Log.Level, cfg.Log.Format)
	fmt.Fprintf(out, "status:        %q\n", cfg.Discord.Status)
	fmt.Fprintf(out, "message cache: %d per channel\n", cfg.Discord.MessageCacheSize)
	fmt.Fprintf(out, "link hosts:    %s\n", strings.Join(hosts, ", "))
	fmt.Fprintf(out, "concurrency:   %s\n", concurrency)
	fmt.Fprintf(out, "user rate:     %d/min\n", cfg.Expander.UserRatePerMinute)
	fmt.Fprintf(out, "embed color:   #%06X\n", cfg.Expander.EmbedColor)
	fmt.Fprintf(out, "avatar fallback: %t\n", cfg.Expander.DefaultAvatarFallback)
	fmt.Fprintf(out, "http server:   %s\n", server)
	fmt.Fprintln(out, "config OK")
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
