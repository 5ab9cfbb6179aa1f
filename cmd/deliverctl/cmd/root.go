package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	endpoint   string
	timeout    time.Duration
	threads    uint
	outputJSON bool
	jwtSecret  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deliverctl",
	Short: "Push messages through the gRPC delivery plugin",
	Long: `deliverctl drives the gRPC delivery plugin outside of a mail host.

It can send a message file through the same pipeline the host uses, check
that a delivery endpoint is serving, and show the effective configuration.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.deliverctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "grpc://localhost:50051", "delivery endpoint URL (grpc, grpcs, http or https)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for a result")
	rootCmd.PersistentFlags().UintVar(&threads, "threads", 0, "executor workers (0 = one per CPU)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&jwtSecret, "secret", "", "HS256 secret for call tokens (overrides DELIVERCTL_SECRET)")

	bindFlags()
}

// bindFlags binds the global flags to viper keys of the same name.
func bindFlags() {
	for _, name := range []string{"endpoint", "timeout", "threads", "json", "secret"} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".deliverctl")
	}

	viper.SetEnvPrefix("deliverctl")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	flags := rootCmd.PersistentFlags()
	if !flags.Changed("endpoint") {
		if s := viper.GetString("endpoint"); s != "" {
			endpoint = s
		}
	}
	if !flags.Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !flags.Changed("threads") {
		threads = viper.GetUint("threads")
	}
	if !flags.Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !flags.Changed("secret") {
		jwtSecret = viper.GetString("secret")
	}
}

// printOutput prints v as indented JSON or as human-readable lines.
func printOutput(w io.Writer, v any, human func(io.Writer)) {
	if !outputJSON {
		human(w)
		return
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(b))
}
