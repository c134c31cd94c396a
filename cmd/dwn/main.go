package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwn-core/dwn/pkg/config"
	dwnlog "github.com/dwn-core/dwn/pkg/log"
)

// version, commit and date are set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dwn",
	Short: "dwn drives a Decentralized Web Node storage core",
	Long: `dwn is an operational and demonstration CLI over the DWN storage
core: it opens a Node from a config file and lets you put, get, query,
clear and manage blobs against it from the command line.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./dwn.yaml)")
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(blobCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	path := cfgFile
	if path == "" {
		path = "dwn.yaml"
	}
	loaded, err := config.Load(path)
	if err != nil {
		loaded = config.Default()
	}
	cfg = loaded

	level := dwnlog.InfoLevel
	switch cfg.LogLevel {
	case "debug":
		level = dwnlog.DebugLevel
	case "warn":
		level = dwnlog.WarnLevel
	case "error":
		level = dwnlog.ErrorLevel
	}
	dwnlog.Init(dwnlog.Config{Level: level, JSONOutput: cfg.LogJSON})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dwn %s (commit %s, built %s)\n", version, commit, date)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
