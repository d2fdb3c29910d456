package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/folio/internal/config"
	"github.com/MeKo-Tech/folio/internal/models"
	"github.com/MeKo-Tech/folio/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
	// Error from the last configuration load.
	configErr error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Layout-aware OCR and DOCX reconstruction for scanned documents",
	Long: `folio turns scanned pages into editable documents.

Each page runs through layout detection, per-region OCR against a vision
language model and text normalization. Recognized pages can be assembled
into a Word (DOCX) document with headings, paragraphs and tables.

This tool provides:
- OCR of images and PDFs from the command line
- DOCX export of recognized pages or Markdown text
- An HTTP server with document workspace, websocket progress and export

Examples:
  folio ocr page1.png page2.png
  folio ocr scan.pdf --format json
  folio export --title "Report" --out report.docx page*.png
  folio serve --port 3000`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.PersistentFlags().GetBool("version")
		if v {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "folio version %s\n", version.String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/folio, /etc/folio)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing the layout models and table overlays (also "+models.EnvModelsDir+")")
	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configErr != nil {
			return fmt.Errorf("error loading configuration: %w", configErr)
		}
		if err := bindFlags(cmd, commandBindings[cmd]...); err != nil {
			return err
		}
		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		// Results go to stdout, so logs stay on stderr.
		logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: logLevel(cfg),
		}))
		slog.SetDefault(logger)
		return nil
	}
}

func logLevel(cfg *config.Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initConfig reads in config file and ENV variables if set. Validation
// happens once the command's flags are bound.
func initConfig() {
	configLoader = config.NewLoader()
	globalConfig, configErr = configLoader.LoadWithFileWithoutValidation(cfgFile)
}

// GetConfig returns the configuration with bound CLI flags applied.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
		if globalConfig == nil {
			d := config.DefaultConfig()
			return &d
		}
	}

	// Flag binding happens after the initial load, so unmarshal again.
	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling updated configuration: %v\n", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
