package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/paramsync/internal/api"
	"github.com/kalambet/paramsync/internal/config"
	"github.com/kalambet/paramsync/internal/param"
	"github.com/kalambet/paramsync/internal/prefs"
	"github.com/kalambet/paramsync/internal/remote"
)

// --- pull / push ---

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Copy declared parameters from the registry into local preferences",
	Long: `Copy every parameter declared in the schema from the registry into the
local preference store. The local store is updated in one commit: if any
read fails, nothing is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		defer setupLogging(cfg).Close()
		return runPull(cmd.Context(), cfg)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Write declared parameters from local preferences to the registry",
	Long: `Write every parameter declared in the schema from the local preference
store to the registry. Each parameter is written on its own; a failure on
one does not stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		defer setupLogging(cfg).Close()
		return runPush(cmd.Context(), cfg)
	},
}

func runPull(ctx context.Context, cfg config.Config) error {
	env, err := openSyncEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.syncer.Pull(ctx); err != nil {
		reportEntryErrors(err)
		return fmt.Errorf("pull failed: %w", err)
	}
	printSuccess("Pulled %d parameters from %s", env.schema.Len(), env.acc.Namespace())
	return nil
}

func runPush(ctx context.Context, cfg config.Config) error {
	env, err := openSyncEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := pushResult(env.syncer.Push(ctx), env.schema.Len()); err != nil {
		return err
	}
	printSuccess("Pushed %d parameters to %s", env.schema.Len(), env.acc.Namespace())
	return nil
}

// pushResult turns the error of a push over total parameters into the
// command's error. A lost session means later entries were never tried.
func pushResult(err error, total int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrSessionUnavailable) {
		return fmt.Errorf("push aborted: %w", err)
	}
	failed := reportEntryErrors(err)
	if failed == 0 {
		return fmt.Errorf("push failed: %w", err)
	}
	return fmt.Errorf("%d of %d parameters failed to push", failed, total)
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Inspect or edit the local preference store",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List all local preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		local, err := openLocal(cfg)
		if err != nil {
			return err
		}
		defer local.Close()
		return showPrefs(os.Stdout, local)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a declared parameter in the local store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		schema, err := param.LoadSchema(cfg.Schema.Path)
		if err != nil {
			return err
		}
		local, err := openLocal(cfg)
		if err != nil {
			return err
		}
		defer local.Close()

		if err := api.SetPreference(local, schema, key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var prefsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export local preferences as JSON or YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		local, err := openLocal(cfg)
		if err != nil {
			return err
		}
		defer local.Close()

		var writer io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}
		if err := exportPrefs(writer, local, format); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Preferences exported to %s", output)
		}
		return nil
	},
}

func init() {
	prefsExportCmd.Flags().String("format", "json", "output format: json or yaml")
	prefsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsExportCmd)
}

func showPrefs(w io.Writer, local prefs.Store) error {
	entries, err := local.All()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No preferences stored.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", colorize(colorBold, e.Key), e.Kind, e.Value)
	}
	return tw.Flush()
}

func exportPrefs(w io.Writer, local prefs.Store, format string) error {
	entries, err := local.All()
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []prefs.Entry{}
	}
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown export format %q (want json or yaml)", format)
}

// --- params ---

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Read or write parameters directly in the registry",
}

var paramsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Read a parameter by bare name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typeFlag, _ := cmd.Flags().GetString("type")

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		typ, err := resolveType(cfg, args[0], typeFlag)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		reg, err := dialRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close(context.Background())

		v, err := getParam(ctx, remote.NewAccessor(reg, cfg.Remote.Namespace), args[0], typ)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var paramsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Write a parameter by bare name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typeFlag, _ := cmd.Flags().GetString("type")
		name, value := args[0], args[1]

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		typ, err := resolveType(cfg, name, typeFlag)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		reg, err := dialRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close(context.Background())

		acc := remote.NewAccessor(reg, cfg.Remote.Namespace)
		if err := setParam(ctx, acc, name, typ, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", acc.Qualified(name), value)
		return nil
	},
}

var paramsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registry parameters under the configured namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("prefix") {
			prefix = param.Qualify("", cfg.Remote.Namespace)
		}
		ctx := cmd.Context()
		reg, err := dialRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close(context.Background())

		list, err := reg.List(ctx, prefix)
		if err != nil {
			return err
		}
		return printParams(os.Stdout, list)
	},
}

func init() {
	paramsGetCmd.Flags().String("type", "", "parameter type (boolean, int_as_string, string); default from schema")
	paramsSetCmd.Flags().String("type", "", "parameter type (boolean, int_as_string, string); default from schema")
	paramsListCmd.Flags().String("prefix", "", "name prefix (default: the configured namespace)")
	paramsCmd.AddCommand(paramsGetCmd)
	paramsCmd.AddCommand(paramsSetCmd)
	paramsCmd.AddCommand(paramsListCmd)
}

// resolveType picks the parameter type from the flag, or from the schema
// when the flag is empty.
func resolveType(cfg config.Config, name, flag string) (param.Type, error) {
	if flag != "" {
		return param.ParseType(flag)
	}
	schema, err := param.LoadSchema(cfg.Schema.Path)
	if err != nil {
		return 0, fmt.Errorf("no --type given and schema unavailable: %w", err)
	}
	sp, ok := schema.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("parameter %q is not in the schema; pass --type", name)
	}
	return sp.Type, nil
}

func getParam(ctx context.Context, acc *remote.Accessor, name string, typ param.Type) (string, error) {
	switch typ {
	case param.Bool:
		v, err := acc.GetBool(ctx, name, false)
		return strconv.FormatBool(v), err
	case param.IntAsString:
		v, err := acc.GetInt(ctx, name, 0)
		return strconv.Itoa(v), err
	case param.String:
		return acc.GetString(ctx, name, "")
	}
	return "", &param.UnknownTypeError{Name: name, Tag: typ.String()}
}

func setParam(ctx context.Context, acc *remote.Accessor, name string, typ param.Type, text string) error {
	switch typ {
	case param.Bool:
		v, err := strconv.ParseBool(text)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", name, err)
		}
		return acc.SetBool(ctx, name, v)
	case param.IntAsString:
		v, err := strconv.Atoi(text)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", name, err)
		}
		return acc.SetInt(ctx, name, v)
	case param.String:
		return acc.SetString(ctx, name, text)
	}
	return &param.UnknownTypeError{Name: name, Tag: typ.String()}
}

func printParams(w io.Writer, list []remote.Param) error {
	if len(list) == 0 {
		fmt.Fprintln(w, "No parameters found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", colorize(colorBold, p.Name), p.Type, string(p.Value))
	}
	return tw.Flush()
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Work with the parameter schema file",
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Load and validate a schema file (default: schema.path)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			path = cfg.Schema.Path
		}
		return checkSchema(os.Stdout, path)
	},
}

func init() {
	schemaCmd.AddCommand(schemaCheckCmd)
}

func checkSchema(w io.Writer, path string) error {
	schema, err := param.LoadSchema(path)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, sp := range schema.Specs() {
		fmt.Fprintf(tw, "  %s\t%s\n", sp.Name, sp.Type)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printSuccess("%s: %d parameters", path, schema.Len())
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if cfg.Remote.Token != "" {
			printStatus("remote.token", "set")
		} else {
			printStatus("remote.token", "not set")
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the registry bearer token in the platform secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetToken(args[0]); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
		printSuccess("Registry token stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetTokenCmd)
}
