package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"attendkiosk/internal/config"
	"attendkiosk/internal/logging"
)

var (
	cfg config.App
	log *logrus.Logger

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "kiosk",
	Short: "Face-presence attendance kiosk",
	Long: `kiosk watches a camera for a face, and once somebody has stood in
front of it long enough, marks their attendance with a photo, the kiosk
position and a timestamp.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		log = logging.New(cfg.LogLevel, cfg.LogFormat)
		if cfg.Env == "production" || cfg.Env == "prod" {
			gin.SetMode(gin.ReleaseMode)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
}
