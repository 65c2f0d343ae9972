package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openwalk/bfind/internal/diag"
	"github.com/openwalk/bfind/internal/match"
	"github.com/openwalk/bfind/internal/traverse"
)

var (
	cfgFile string
	version = "0.1.0"
)

// errDiagnostics signals a clean exit with status 1: the walk ran, but some
// entries could not be searched.
var errDiagnostics = errors.New("some entries could not be searched")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bfind [flags] [path...]",
	Short: "Breadth-first file search",
	Long: `bfind searches directory trees breadth-first, so shallow results appear
before deep ones. It keeps a bounded budget of open directory handles,
detects symlink loops, and recovers from per-entry errors instead of
aborting the walk.

Examples:
  bfind /var/log --name="*.log"
  bfind . -S dfs --type=d --maxdepth=3
  bfind /data -L --larger-than=1GB --older-than=30d`,
	Version:       version,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		roots := args
		if len(roots) == 0 {
			roots = []string{"."}
		}
		return runFind(cmd.Context(), roots)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Traversal flags
	rootCmd.Flags().StringP("strategy", "S", "bfs", "Search strategy (bfs|dfs|postorder)")
	rootCmd.Flags().BoolP("follow", "L", false, "Follow all symbolic links")
	rootCmd.Flags().BoolP("follow-roots", "H", false, "Follow symbolic links given as roots")
	rootCmd.Flags().Int("mindepth", 0, "Do not report entries shallower than this depth")
	rootCmd.Flags().Int("maxdepth", 0, "Do not descend below this depth (0 = unlimited)")
	rootCmd.Flags().Int("max-open-dirs", 0, "Directory handle budget (0 = derive from the fd limit)")
	rootCmd.Flags().Bool("ignore-readdir-race", false, "Silently skip entries deleted during the walk")
	rootCmd.Flags().Bool("continue-on-root-error", false, "Report unreachable roots and keep going")

	// Filter flags
	rootCmd.Flags().StringP("name", "n", "", "Match by base name (supports wildcards)")
	rootCmd.Flags().StringP("path", "p", "", "Match by full path (supports wildcards)")
	rootCmd.Flags().StringP("regex", "r", "", "Match the full path by regular expression")
	rootCmd.Flags().StringP("type", "t", "", "Match by file type (comma list of f,d,l,b,c,p,s)")
	rootCmd.Flags().String("larger-than", "", "Files larger than this size (e.g. 1MB, 500KB)")
	rootCmd.Flags().String("smaller-than", "", "Files smaller than this size (e.g. 1MB, 500KB)")
	rootCmd.Flags().String("older-than", "", "Files older than this duration (e.g. 7d, 24h, 30m)")
	rootCmd.Flags().String("newer-than", "", "Files newer than this duration (e.g. 7d, 24h, 30m)")
	rootCmd.Flags().Bool("include-hidden", false, "Include hidden files and directories")

	// Output flags
	rootCmd.Flags().String("color", "auto", "Color results (auto|always|never)")
	rootCmd.Flags().String("format", "text", "Output format (text|json)")
	rootCmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.Flags().Bool("silent", false, "Disable all output except errors")

	// Bind flags to viper
	viper.BindPFlag("strategy", rootCmd.Flags().Lookup("strategy"))
	viper.BindPFlag("follow", rootCmd.Flags().Lookup("follow"))
	viper.BindPFlag("follow-roots", rootCmd.Flags().Lookup("follow-roots"))
	viper.BindPFlag("mindepth", rootCmd.Flags().Lookup("mindepth"))
	viper.BindPFlag("maxdepth", rootCmd.Flags().Lookup("maxdepth"))
	viper.BindPFlag("max-open-dirs", rootCmd.Flags().Lookup("max-open-dirs"))
	viper.BindPFlag("ignore-readdir-race", rootCmd.Flags().Lookup("ignore-readdir-race"))
	viper.BindPFlag("continue-on-root-error", rootCmd.Flags().Lookup("continue-on-root-error"))
	viper.BindPFlag("name", rootCmd.Flags().Lookup("name"))
	viper.BindPFlag("path", rootCmd.Flags().Lookup("path"))
	viper.BindPFlag("regex", rootCmd.Flags().Lookup("regex"))
	viper.BindPFlag("type", rootCmd.Flags().Lookup("type"))
	viper.BindPFlag("larger-than", rootCmd.Flags().Lookup("larger-than"))
	viper.BindPFlag("smaller-than", rootCmd.Flags().Lookup("smaller-than"))
	viper.BindPFlag("older-than", rootCmd.Flags().Lookup("older-than"))
	viper.BindPFlag("newer-than", rootCmd.Flags().Lookup("newer-than"))
	viper.BindPFlag("include-hidden", rootCmd.Flags().Lookup("include-hidden"))
	viper.BindPFlag("color", rootCmd.Flags().Lookup("color"))
	viper.BindPFlag("format", rootCmd.Flags().Lookup("format"))
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("silent", rootCmd.Flags().Lookup("silent"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".bfind" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".bfind")
	}

	viper.AutomaticEnv() // read in environment variables that match

	viper.ReadInConfig()
}

func runFind(ctx context.Context, roots []string) error {
	opts, err := buildOptions()
	if err != nil {
		return err
	}

	filter, err := buildFilter()
	if err != nil {
		return err
	}

	colorMode, err := diag.ParseColorMode(viper.GetString("color"))
	if err != nil {
		return err
	}
	var printerOpts []diag.Option
	switch format := viper.GetString("format"); format {
	case "text", "":
	case "json":
		printerOpts = append(printerOpts, diag.WithJSON())
	default:
		return fmt.Errorf("invalid format: %s (want text|json)", format)
	}
	printer := diag.NewPrinter(os.Stdout, os.Stderr, colorMode, printerOpts...)

	logger := createLogger()
	defer logger.Sync()
	opts.Logger = logger
	silent := viper.GetBool("silent")

	err = traverse.WalkWithOptions(ctx, roots, opts, func(v *traverse.Visit, walkErr error) traverse.Action {
		if walkErr != nil {
			printer.Error(walkErr)
			return traverse.Continue
		}

		// The filter alone would only hide entries inside hidden
		// directories, not skip reading them.
		if !filter.IncludeHidden && v.Type() == traverse.TypeDir &&
			v.Depth() > 0 && match.IsHidden(v.Name()) {
			return traverse.Prune
		}

		ok, matchErr := filter.Matches(v)
		if matchErr != nil {
			var terr *traverse.Error
			if errors.As(matchErr, &terr) {
				if opts.IgnoreRaces && terr.Kind == traverse.KindVanished {
					return traverse.Continue
				}
				printer.Error(matchErr)
			} else {
				printer.Error(fmt.Errorf("%s: %w", v.Path(), matchErr))
			}
			return traverse.Continue
		}
		if ok && !silent {
			printer.Print(v)
		}
		return traverse.Continue
	})
	if err != nil {
		printer.Error(err)
		return errDiagnostics
	}
	if printer.Failed() {
		return errDiagnostics
	}
	return nil
}

func buildOptions() (traverse.Options, error) {
	opts := traverse.Options{
		FollowAll:           viper.GetBool("follow"),
		FollowRoots:         viper.GetBool("follow-roots"),
		MinDepth:            viper.GetInt("mindepth"),
		MaxDepth:            viper.GetInt("maxdepth"),
		MaxOpenDirs:         viper.GetInt("max-open-dirs"),
		IgnoreRaces:         viper.GetBool("ignore-readdir-race"),
		ContinueOnRootError: viper.GetBool("continue-on-root-error"),
	}

	switch strategy := viper.GetString("strategy"); strategy {
	case "bfs", "":
		opts.Order = traverse.OrderBFS
	case "dfs":
		opts.Order = traverse.OrderDFS
	case "postorder":
		opts.Order = traverse.OrderPostOrder
	default:
		return opts, fmt.Errorf("invalid strategy: %s (want bfs|dfs|postorder)", strategy)
	}

	return opts, nil
}

func buildFilter() (match.Filter, error) {
	filter := match.Filter{
		NamePattern:   viper.GetString("name"),
		PathPattern:   viper.GetString("path"),
		IncludeHidden: viper.GetBool("include-hidden"),
		FollowForStat: viper.GetBool("follow"),
	}

	if regexStr := viper.GetString("regex"); regexStr != "" {
		re, err := regexp.Compile(regexStr)
		if err != nil {
			return filter, fmt.Errorf("invalid regex pattern: %w", err)
		}
		filter.Regex = re
	}

	if typeSpec := viper.GetString("type"); typeSpec != "" {
		types, ok := match.ParseTypes(typeSpec)
		if !ok {
			return filter, fmt.Errorf("invalid type: %s (want comma list of f,d,l,b,c,p,s)", typeSpec)
		}
		filter.Types = types
	}

	if largerStr := viper.GetString("larger-than"); largerStr != "" {
		size, err := parseSize(largerStr)
		if err != nil {
			return filter, fmt.Errorf("invalid larger-than value: %w", err)
		}
		filter.LargerThan = size
	}

	if smallerStr := viper.GetString("smaller-than"); smallerStr != "" {
		size, err := parseSize(smallerStr)
		if err != nil {
			return filter, fmt.Errorf("invalid smaller-than value: %w", err)
		}
		filter.SmallerThan = size
	}

	if olderStr := viper.GetString("older-than"); olderStr != "" {
		d, err := parseDuration(olderStr)
		if err != nil {
			return filter, fmt.Errorf("invalid older-than value: %w", err)
		}
		filter.ModifiedBefore = time.Now().Add(-d)
	}

	if newerStr := viper.GetString("newer-than"); newerStr != "" {
		d, err := parseDuration(newerStr)
		if err != nil {
			return filter, fmt.Errorf("invalid newer-than value: %w", err)
		}
		filter.ModifiedAfter = time.Now().Add(-d)
	}

	return filter, nil
}

// createLogger creates a zap logger honoring the verbose/silent flags.
func createLogger() *zap.Logger {
	var config zap.Config
	if viper.GetBool("verbose") {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// parseDuration parses a duration string with support for days (d)
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days, err := parseFloat(s[:len(s)-1])
		if err != nil {
			return 0, err
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	return time.ParseDuration(s)
}

// parseSize parses a size string with support for KB, MB, GB, TB
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-2]
	}

	size, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	return int64(size * float64(multiplier)), nil
}

// parseFloat parses a float from a string
func parseFloat(s string) (float64, error) {
	var value float64
	_, err := fmt.Sscanf(s, "%f", &value)
	return value, err
}
