package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TobiSchelling/hrnews/internal/aggregate"
	"github.com/TobiSchelling/hrnews/internal/compose"
	"github.com/TobiSchelling/hrnews/internal/config"
	"github.com/TobiSchelling/hrnews/internal/database"
	"github.com/TobiSchelling/hrnews/internal/scheduler"
	"github.com/TobiSchelling/hrnews/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hrnews",
	Short:   "Harm reduction news aggregator",
	Long:    "hrnews pulls drug-safety alerts, lab results, recalls and harm reduction news from many sources into one prioritized feed.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "version" {
			setLogFlags(verbose)
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		applyOverrides(cfg)
		setLogFlags(verbose || strings.EqualFold(cfg.Logging.Level, "DEBUG"))
		return nil
	},
}

func setLogFlags(debug bool) {
	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	viper.SetEnvPrefix("HRNEWS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cacheCmd)
}

// applyOverrides layers HRNEWS_* environment variables and bound flags
// over the loaded file.
func applyOverrides(c *config.Config) {
	if v := viper.GetString("server.host"); v != "" {
		c.Server.Host = v
	}
	if v := viper.GetInt("server.port"); v > 0 {
		c.Server.Port = v
	}
	if v := viper.GetDuration("cache.ttl"); v > 0 {
		c.Cache.TTL = v
	}
	if viper.IsSet("cache.serve_stale") {
		c.Cache.ServeStale = viper.GetBool("cache.serve_stale")
	}
	if v := viper.GetString("cache.redis_addr"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := viper.GetString("secrets_dir"); v != "" {
		c.SecretsDir = v
	}
	if v := viper.GetString("output.data_dir"); v != "" {
		c.Output.DataDir = v
	}
	if v := viper.GetString("logging.level"); v != "" {
		c.Logging.Level = v
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("hrnews", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/hrnews/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to enable sources and set credential references.")
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, s := range cfg.Sources {
			state := "disabled"
			if s.Enabled {
				state = "enabled"
			}
			fmt.Printf("  %-14s %-7s %-9s %s\n", s.Key, s.Kind, state, s.Name)
		}
		return nil
	},
}

// --- fetch command ---

var (
	fetchRegion  string
	fetchLimit   int
	fetchOffset  int
	fetchOnly    []string
	fetchExclude []string
	fetchRefresh bool
)

func requestFromFlags() aggregate.Request {
	req := aggregate.Request{
		Enabled:         true,
		PreferredRegion: fetchRegion,
		Offset:          fetchOffset,
		ForceRefresh:    fetchRefresh,
	}
	if fetchLimit > 0 {
		n := fetchLimit
		req.Limit = &n
	}
	if len(fetchOnly) > 0 || len(fetchExclude) > 0 {
		req.EnabledSources = make(map[string]bool)
		if len(fetchOnly) > 0 {
			for _, s := range cfg.Sources {
				req.EnabledSources[s.Key] = false
			}
			for _, k := range fetchOnly {
				req.EnabledSources[k] = true
			}
		}
		for _, k := range fetchExclude {
			req.EnabledSources[k] = false
		}
	}
	return req
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&fetchRegion, "region", "r", "", "Preferred region (default: all regions)")
	cmd.Flags().IntVarP(&fetchLimit, "limit", "n", 20, "Maximum articles to show (0 for all)")
	cmd.Flags().IntVar(&fetchOffset, "offset", 0, "Articles to skip")
	cmd.Flags().StringSliceVar(&fetchOnly, "only", nil, "Fetch only these source keys")
	cmd.Flags().StringSliceVar(&fetchExclude, "exclude", nil, "Skip these source keys")
	cmd.Flags().BoolVar(&fetchRefresh, "refresh", false, "Bypass the cache")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and print the aggregated feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := build(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		resp := app.engine.Fetch(cmd.Context(), requestFromFlags())
		printFeed(os.Stdout, resp)
		return nil
	},
}

func printFeed(w io.Writer, resp aggregate.Response) {
	for _, a := range resp.Articles {
		fmt.Fprintf(w, "[%-8s] %s  %s\n", a.Priority, a.Date, a.Title)
		if a.SourceURL != "" {
			fmt.Fprintf(w, "           %s | %s\n", a.Source, a.SourceURL)
		} else {
			fmt.Fprintf(w, "           %s\n", a.Source)
		}
	}
	fmt.Fprintf(w, "\nShowing %d of %d articles (offset %d)\n", resp.Showing, resp.Total, resp.Offset)

	fmt.Fprintln(w, "\nSources:")
	for _, s := range resp.Sources {
		line := fmt.Sprintf("  %-14s %-6s %d", s.Key, s.Status, s.Count)
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Fprintln(w, line)
	}
}

// --- digest command ---

var digestOut string

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Write a Markdown briefing of the current feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := build(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		resp := app.engine.Fetch(cmd.Context(), requestFromFlags())
		md := compose.Compose(resp, fetchRegion).Markdown()
		if digestOut == "" {
			fmt.Print(md)
			return nil
		}
		if err := os.WriteFile(digestOut, []byte(md), 0o644); err != nil {
			return fmt.Errorf("writing digest: %w", err)
		}
		fmt.Printf("Wrote %s\n", digestOut)
		return nil
	},
}

// --- serve command ---

var (
	servePort      int
	serveNoRefresh bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and digest server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		app, err := build(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		if !serveNoRefresh && cfg.Refresh.Cron != "" {
			sched, err := scheduler.New(cfg.Refresh.Cron, app.engine, cfg.Refresh.Regions)
			if err != nil {
				return fmt.Errorf("scheduling refresh: %w", err)
			}
			sched.Start(5 * time.Second)
			defer sched.Stop()
		}

		var history server.History
		if app.db != nil {
			history = app.db
		}
		fmt.Printf("Starting server at http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
		return server.Serve(app.engine, history, cfg.Server.Host, cfg.Server.Port)
	},
}

// --- refresh command ---

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one forced pass for every configured refresh region",
	Long:  "Warms the shared cache (with cache.redis_addr set) and records the passes in the history database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := build(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		spec := cfg.Refresh.Cron
		if spec == "" {
			spec = "@hourly"
		}
		sched, err := scheduler.New(spec, app.engine, cfg.Refresh.Regions)
		if err != nil {
			return fmt.Errorf("scheduling refresh: %w", err)
		}
		sched.RunOnce()
		return nil
	},
}

// --- history command ---

var (
	historyLimit int
	historyPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent aggregation passes and source health",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg.DBPath())
		if err != nil {
			return err
		}
		defer db.Close()

		if historyPrune > 0 {
			n, err := db.PrunePasses(time.Now().Add(-historyPrune))
			if err != nil {
				return fmt.Errorf("pruning passes: %w", err)
			}
			fmt.Printf("Pruned %d passes older than %s\n", n, historyPrune)
		}

		total, err := db.CountPasses()
		if err != nil {
			return err
		}
		passes, err := db.GetRecentPasses(historyLimit)
		if err != nil {
			return err
		}
		fmt.Printf("Recorded passes: %d\n\n", total)
		for _, p := range passes {
			forced := ""
			if p.Forced {
				forced = " (forced)"
			}
			fmt.Printf("  %s  %-24s %4d articles  %s%s\n",
				p.StartedAt.Local().Format("2006-01-02 15:04:05"), p.CacheKey, p.ArticleCount,
				p.Duration().Round(time.Millisecond), forced)
		}

		health, err := db.GetSourceHealth(time.Now().Add(-7 * 24 * time.Hour))
		if err != nil {
			return err
		}
		fmt.Println("\nSource health (last 7 days):")
		for _, h := range health {
			fmt.Printf("  %-14s %3d passes  %5.1f%% failed  last: %s\n",
				h.SourceKey, h.Passes, h.FailureRate()*100, h.LastStatus)
			if h.LastError != "" {
				fmt.Printf("  %-14s last error: %s\n", "", h.LastError)
			}
		}
		return nil
	},
}

// --- cache command ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the shared cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := build(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		st := app.engine.CacheStats(cmd.Context())
		fmt.Printf("Entries: %d\n", st.Entries)
		fmt.Printf("Articles: %d\n", st.Articles)
		fmt.Printf("Approximate size: %d bytes\n", st.ApproximateBytes)
		for _, k := range st.Keys {
			fmt.Printf("  %s\n", k)
		}
		if st.LastUpdate != nil {
			fmt.Printf("Last update: %s (%s ago)\n", st.LastUpdate.Local().Format(time.RFC3339),
				time.Since(*st.LastUpdate).Round(time.Second))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := build(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		app.engine.ClearCache(context.Background())
		fmt.Println("Cache cleared.")
		return nil
	},
}

func init() {
	addRequestFlags(fetchCmd)
	addRequestFlags(digestCmd)
	digestCmd.Flags().StringVarP(&digestOut, "output", "o", "", "Write the briefing to a file instead of stdout")

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().BoolVar(&serveNoRefresh, "no-refresh", false, "Disable the background refresh schedule")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of passes to show")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "Delete passes older than this duration first")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
