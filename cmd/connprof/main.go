package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/connprof/internal/config/store/redisstore"
	"github.com/nupi-ai/connprof/internal/version"
)

// StoreEnv selects the profile store backend: sqlite or redis.
const StoreEnv = "CONNPROF_STORE"

var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
	out      io.Writer
	errOut   io.Writer
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data any) error {
	if s, ok := data.(string); ok && !f.jsonMode {
		fmt.Fprintln(f.out, s)
		return nil
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(f.out, string(jsonBytes))
	return nil
}

// Printf writes a human-readable line; it is a no-op in JSON mode.
func (f *OutputFormatter) Printf(format string, args ...any) {
	if f.jsonMode {
		return
	}
	fmt.Fprintf(f.out, format, args...)
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]any) error {
	if f.jsonMode {
		output := map[string]any{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Fprintln(f.out, message)
	return nil
}

// Error outputs an error message
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]any{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(f.errOut, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(f.errOut, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(f.errOut, message)
		}
	}
	if err == nil {
		return fmt.Errorf("%s", message)
	}
	return fmt.Errorf("%s: %w", message, err)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "connprof",
		Short:   "connprof - connection profile manager",
		Long:    "Manage named connection profiles and the per-domain sessions, favorites and history that reference them.",
		Version: version.FormatVersion(version.String()),
	}

	root.PersistentFlags().String("instance", "", "Instance name (default \"default\")")
	root.PersistentFlags().String("db", "", "Path to the SQLite profile store (overrides the instance path)")
	root.PersistentFlags().String("store", envOr(StoreEnv, "sqlite"), "Profile store backend: sqlite or redis")
	root.PersistentFlags().String("redis-addr", envOr(redisstore.AddrEnv, "localhost:6379"), "Redis address used with --store=redis")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentFlags().Bool("json", false, "Output in JSON format")
	root.PersistentFlags().BoolP("yes", "y", false, "Answer yes to confirmations")
	root.PersistentFlags().Bool("no-input", false, "Never prompt; missing values fail")

	root.AddCommand(
		newProfilesCommand(),
		newSessionsCommand(),
		newFavoritesCommand(),
		newHistoryCommand(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd = newRootCommand()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
