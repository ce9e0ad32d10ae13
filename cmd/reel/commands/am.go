package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.Config + " Manage reel configuration",
	Long: sym.Config + ` am: Manage reel configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (REEL_* prefix, plus DASHSCOPE_API_KEY,
   SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY, DATABASE_URL)
2. Project config (./am.toml, searched upward)
3. User config (~/.reel/am.toml)
4. System config (/etc/reel/config.toml)
5. Default values

A .env file in the working directory is loaded before the environment is read.

Examples:
  reel am show                    # Show current configuration
  reel am show --format json      # Show configuration in JSON format
  reel am get pipeline.workers    # Get specific config value
  reel am where                   # Show where each setting comes from
  reel am validate                # Validate current configuration
  reel am init                    # Write a default ./am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pipeline.poll.max_attempts)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate current configuration, or a single config file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each setting is loaded from",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file",
	Long:  "Write a default config file (./am.toml unless a path is given). An existing file is rotated into .back1-.back3 first.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

// renderConfig marshals cfg in one of the supported formats. Credentials
// carry no json/yaml tags and are masked for TOML.
func renderConfig(cfg *am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to JSON")
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to YAML")
		}
		return "# reel configuration\n" + string(data), nil
	case "toml":
		data, err := toml.Marshal(masked(cfg))
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to TOML")
		}
		return "# reel configuration\n" + string(data), nil
	default:
		return "", errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

// masked returns a copy of cfg with credentials masked
func masked(cfg *am.Config) *am.Config {
	c := *cfg
	c.Providers.DashScope.APIKey = am.MaskSecret(c.Providers.DashScope.APIKey)
	if len(cfg.Providers.DashScope.ModelKeys) > 0 {
		c.Providers.DashScope.ModelKeys = make([]am.ModelKey, len(cfg.Providers.DashScope.ModelKeys))
		for i, mk := range cfg.Providers.DashScope.ModelKeys {
			c.Providers.DashScope.ModelKeys[i] = am.ModelKey{Model: mk.Model, APIKey: am.MaskSecret(mk.APIKey)}
		}
	}
	c.Storage.Supabase.ServiceKey = am.MaskSecret(c.Storage.Supabase.ServiceKey)
	c.Database.DSN = am.MaskSecret(c.Database.DSN)
	if len(cfg.Server.APITokens) > 0 {
		c.Server.APITokens = make([]string, len(cfg.Server.APITokens))
		for i, tok := range cfg.Server.APITokens {
			c.Server.APITokens[i] = am.MaskSecret(tok)
		}
	}
	return &c
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	out, err := renderConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !am.GetViper().IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), am.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	var cfg *am.Config
	var err error
	if len(args) == 1 {
		cfg, err = am.LoadFromFile(args[0])
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	settings, err := am.Introspect()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Configuration files checked (later overrides earlier):")
	for _, p := range am.ConfigPaths() {
		state := "missing"
		if _, err := os.Stat(p); err == nil {
			state = "loaded"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %-8s %s\n", state, p)
	}
	fmt.Fprintln(cmd.OutOrStdout())

	rows := pterm.TableData{{"KEY", "VALUE", "SOURCE", "FROM"}}
	for _, s := range settings {
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(rows).Render()
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := "am.toml"
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", path)
	}
	if err := am.WriteDefaultConfig(abs, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote default configuration to %s\n", abs)
	return nil
}
