package commands

import (
	"github.com/ppiankov/bucketspectre/internal/config"
	"github.com/ppiankov/bucketspectre/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	profile    string
	configPath string
	version    string
	commit     string
	date       string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bucketspectre",
	Short: "bucketspectre — S3 bucket security auditor",
	Long: `bucketspectre inspects the configuration of every S3 bucket in an account
and flags security misconfigurations: public access block gaps, public ACL
grants, wildcard bucket policies, and missing encryption, versioning, or
access logging.

Each bucket gets a weighted risk score. Results are kept in a local SQLite
history so repeated scans show whether a bucket got better or worse.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with injected build info.
func Execute(v, c, d string) error {
	version = v
	commit = c
	date = d
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS profile name")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: .bucketspectre.yaml)")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config when given (a missing file is an error there),
// otherwise the optional file in the working directory.
func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load(".")
}
