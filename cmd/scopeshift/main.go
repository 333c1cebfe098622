package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"scopeshift/internal/config"
	"scopeshift/internal/domain"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if domain.IsKind(err, domain.KindConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scopeshift",
		Short: "Turn a product scenario into a scoped, analyzed and testable plan",
		Long: `scopeshift drives a generative model through four stages:
- scope: scenario -> features with acceptance criteria, test specs and code templates
- proposal: candidate follow-up features with impact and risk estimates
- analysis: scope health issues (duplicates, auth conflicts, missing criteria)
- test plan: API-level tests against a fixed endpoint list

Every stage after scope works from the most recent scope document and can be
re-run on its own.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cobra.OnInitialize(initConfig)
	addPersistentFlags(root)
	root.AddCommand(generateCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(schemaCmd())
	root.AddCommand(promptCmd())
	root.AddCommand(configCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(runsCmd())
	return root
}

func initConfig() {
	viper.SetEnvPrefix("SCOPESHIFT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP("config", "c", "", "config file (default ./"+config.DefaultPath+" when present)")
	root.PersistentFlags().StringP("format", "f", formatTable, "output format: table, json or yaml")
	root.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	root.PersistentFlags().String("oracle", "", "oracle provider: gemini or fixture")
	root.PersistentFlags().String("fixtures", "", "directory of <stage>.json fixture responses")
	root.PersistentFlags().String("model", "", "model name override")
	for _, name := range []string{"config", "format", "verbose", "oracle", "fixtures", "model"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
}

// loadConfig reads the config file and layers flag/env overrides on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if m := strings.TrimSpace(viper.GetString("model")); m != "" {
		cfg.Oracle.Model = m
	}
	if dir := strings.TrimSpace(viper.GetString("fixtures")); dir != "" {
		cfg.Oracle.FixturesDir = dir
		cfg.Oracle.Provider = config.ProviderFixture
	}
	if p := strings.TrimSpace(viper.GetString("oracle")); p != "" {
		cfg.Oracle.Provider = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if viper.GetBool("verbose") {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

func outputFormat() (string, error) {
	f := strings.ToLower(strings.TrimSpace(viper.GetString("format")))
	switch f {
	case "", formatTable:
		return formatTable, nil
	case formatJSON, formatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want table, json or yaml)", f)
}

// printOutput renders v in the selected format; table falls back to
// indented JSON when no table renderer is given.
func printOutput(w io.Writer, v any, table func(io.Writer)) error {
	f, err := outputFormat()
	if err != nil {
		return err
	}
	switch f {
	case formatJSON:
		return printJSON(w, v)
	case formatYAML:
		return printYAML(w, v)
	}
	if table == nil {
		return printJSON(w, v)
	}
	table(w)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
