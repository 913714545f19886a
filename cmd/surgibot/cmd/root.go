package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "surgibot",
	Short: "Operating-room status board",
	Long: `surgibot runs the operating-room status board: a small appliance that
tracks where each patient is in the surgical flow, announces transitions
over the PA in Thai and English, and pushes live updates to displays.

Common workflows:

  Run the aggregator (API, push feed, janitor, announcements):
    surgibot serve --addr :8088 --token <shared-token>

  Run a terminal board against a running aggregator:
    surgibot board --url http://10.0.0.5:8088 --token <shared-token>

  Install the ICD-10 catalog into the local database:
    surgibot icd10 catalog.csv

Configuration:
  Flags may also come from environment variables or a config file:
    SURGIBOT_DB       sqlite database path
    SURGIBOT_TOKEN    shared API token
    SURGIBOT_ADDR     aggregator listen address`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in the home directory with name ".surgibot".
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".surgibot")
		viper.SetConfigType("yaml")
	}

	// Environment variables matching "SURGIBOT_VARNAME" override.
	viper.SetEnvPrefix("SURGIBOT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.surgibot.yaml)")

	rootCmd.PersistentFlags().String("db", "surgibot.db", "sqlite database path")
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "shared API token")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
