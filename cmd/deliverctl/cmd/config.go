package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage deliverctl configuration",
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		view := map[string]any{
			"endpoint": endpoint,
			"timeout":  timeout.String(),
			"threads":  threads,
			"json":     outputJSON,
			"auth":     jwtSecret != "",
		}
		printOutput(cmd.OutOrStdout(), view, func(w io.Writer) {
			fmt.Fprintln(w, "Current configuration:")
			fmt.Fprintf(w, "  Endpoint: %s\n", endpoint)
			fmt.Fprintf(w, "  Timeout: %s\n", timeout)
			fmt.Fprintf(w, "  Threads: %d\n", threads)
			fmt.Fprintf(w, "  JSON Output: %v\n", outputJSON)
			fmt.Fprintf(w, "  Call tokens: %v\n", jwtSecret != "")
			if viper.ConfigFileUsed() != "" {
				fmt.Fprintf(w, "  Config file: %s\n", viper.ConfigFileUsed())
			} else {
				fmt.Fprintln(w, "  Config file: none (using defaults)")
			}
		})
	},
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a default configuration file in the home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath := filepath.Join(home, ".deliverctl.yaml")

		// Check if config file already exists
		if _, err := os.Stat(configPath); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
			}
		}

		viper.Set("endpoint", "grpc://localhost:50051")
		viper.Set("timeout", "30s")
		viper.Set("threads", 0)
		viper.Set("json", false)

		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}
