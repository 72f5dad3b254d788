package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/chatscope/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	      _           _                              
	  ___| |__   __ _| |_ ___  ___ ___  _ __   ___ 
	 / __| '_ \ / _' | __/ __|/ __/ _ \| '_ \ / _ \
	| (__| | | | (_| | |_\__ \ (_| (_) | |_) |  __/
	 \___|_| |_|\__,_|\__|___/\___\___/| .__/ \___|
	                                   |_|         
`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatscope",
	Short: "Keep a durable, deduplicated log of a live web chat conversation.",
	Long: LOGO + `chatscope watches one conversation rendered by a web chat client, stores every new
message exactly once in a local SQLite database, and lets you list them by day.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chatscope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: chatscope.sqlite in CWD)")
	rootCmd.PersistentFlags().Bool("mask", true, "Show only the last 4 characters of sender names")

	viper.BindPFlag("dbpath", rootCmd.PersistentFlags().Lookup("dbpath"))
	viper.BindPFlag("mask_senders", rootCmd.PersistentFlags().Lookup("mask"))
}

func setDefaults() {
	viper.SetDefault("contact", "")
	viper.SetDefault("poll_interval", 2.0)
	viper.SetDefault("dbpath", utils.DefaultDBPath)
	viper.SetDefault("logfile", "")
	viper.SetDefault("source.url", "http://127.0.0.1:9515/snapshot")
	viper.SetDefault("source.timeout", "10s")
	viper.SetDefault("login_wait", "30s")
	viper.SetDefault("first_message_wait", "15s")
	viper.SetDefault("restart_delay", "5s")
	viper.SetDefault("retry_backoff", "2s")
	viper.SetDefault("error_backoff", "5s")
	viper.SetDefault("seen_cache_size", 4096)
	viper.SetDefault("mask_senders", true)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".chatscope")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("chatscope")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.chatscope.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
	if err := utils.SetLogFile(viper.GetString("logfile")); err != nil {
		utils.Log.Warnf("Could not open log file: %v", err)
	}
}

// dbPathFromConfig returns the configured database path.
func dbPathFromConfig() string {
	dbPath := viper.GetString("dbpath")
	if dbPath == "" {
		dbPath = utils.DefaultDBPath
	}
	return dbPath
}
