package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/clawgate/internal/audit"
	"github.com/stellarlinkco/clawgate/internal/config"
	"github.com/stellarlinkco/clawgate/internal/daemon"
)

// Version is stamped at build time via -ldflags "-X main.Version=...".
var Version = "dev"

// Exit codes for the request command, chosen so scripts can gate on
// the decision directly.
const (
	exitApproved = 0
	exitPending  = 2
	exitDenied   = 3
)

// exitFunc is swapped in tests.
var exitFunc = os.Exit

var rootCmd = &cobra.Command{
	Use:   "clawgate",
	Short: "clawgate - permission gate for autonomous agent commands",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the clawgate daemon",
	RunE:  runServe,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <command>",
	Short: "Classify a shell command against the running daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

var requestCmd = &cobra.Command{
	Use:   "request <command>",
	Short: "Ask the daemon for permission to run a command",
	Long: `Ask the daemon for permission to run a command.

The exit code carries the decision: 0 approved, 2 pending user
confirmation, 3 denied.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent permission decisions",
	RunE:  runHistory,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show decision statistics",
	RunE:  runStats,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove audit records older than the retention window",
	RunE:  runCleanup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the clawgate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

var (
	configFlag string
	portFlag   int
	serverFlag string
	skipFlag   bool
	limitFlag  int
	daysFlag   int
)

func init() {
	serveCmd.Flags().StringVar(&configFlag, "config", "", "Config file path (default ~/.clawgate/config.json)")
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Override the listen port")
	requestCmd.Flags().BoolVar(&skipFlag, "dangerously-skip-confirmations", false, "Auto-approve mutating commands for this request")
	historyCmd.Flags().IntVar(&limitFlag, "limit", 20, "Number of decisions to show")
	cleanupCmd.Flags().IntVar(&daysFlag, "days", 0, "Retention window in days (default from config)")
	classifyCmd.Flags().StringVar(&serverFlag, "server", "", "Daemon base URL (default from config)")
	requestCmd.Flags().StringVar(&serverFlag, "server", "", "Daemon base URL (default from config)")
	rootCmd.AddCommand(serveCmd, classifyCmd, requestCmd, historyCmd, statsCmd, cleanupCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadCLIConfig() (*config.Config, error) {
	if configFlag != "" {
		if _, err := os.Stat(configFlag); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		return config.LoadConfigFrom(configFlag)
	}
	return config.LoadConfig()
}

func daemonBaseURL(cfg *config.Config) string {
	if serverFlag != "" {
		return strings.TrimRight(serverFlag, "/")
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	d, err := daemon.NewWithOptions(cfg, daemon.Options{Version: Version})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	return d.Run(context.Background())
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return classifyWithOptions(clientOptions{BaseURL: daemonBaseURL(cfg)}, strings.Join(args, " "))
}

func runRequest(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	code, err := requestWithOptions(clientOptions{BaseURL: daemonBaseURL(cfg)}, strings.Join(args, " "), skipFlag)
	if err != nil {
		return err
	}
	if code != exitApproved {
		exitFunc(code)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return historyWithOptions(cfg, limitFlag, os.Stdout)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return statsWithOptions(cfg, os.Stdout)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return cleanupWithOptions(cfg, daysFlag, os.Stdout)
}

// clientOptions carries injectable dependencies for the HTTP-backed
// subcommands, so tests can point them at a fake daemon.
type clientOptions struct {
	BaseURL string
	Stdout  io.Writer
}

func (o clientOptions) stdout() io.Writer {
	if o.Stdout == nil {
		return os.Stdout
	}
	return o.Stdout
}

func classifyWithOptions(opts clientOptions, command string) error {
	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := http.Post(opts.BaseURL+"/api/classify", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", opts.BaseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var out struct {
		Classification string  `json:"classification"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Fprintf(opts.stdout(), "%s (confidence %.2f): %s\n", out.Classification, out.Confidence, out.Reasoning)
	return nil
}

func requestWithOptions(opts clientOptions, command string, skip bool) (int, error) {
	body, err := json.Marshal(map[string]any{
		"command":                        command,
		"dangerously_skip_confirmations": skip,
	})
	if err != nil {
		return exitApproved, fmt.Errorf("encode request: %w", err)
	}

	resp, err := http.Post(opts.BaseURL+"/api/hooks/permission-request", "application/json", bytes.NewReader(body))
	if err != nil {
		return exitApproved, fmt.Errorf("daemon not reachable at %s: %w", opts.BaseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return exitApproved, apiError(resp)
	}

	var out struct {
		Decision       string   `json:"decision"`
		Reasoning      string   `json:"reasoning"`
		Classification string   `json:"classification"`
		Confidence     *float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return exitApproved, fmt.Errorf("decode response: %w", err)
	}

	w := opts.stdout()
	fmt.Fprintf(w, "%s: %s\n", out.Decision, out.Reasoning)
	if out.Classification != "" && out.Confidence != nil {
		fmt.Fprintf(w, "classification: %s (confidence %.2f)\n", out.Classification, *out.Confidence)
	}

	switch out.Decision {
	case "APPROVED", "SKIPPED":
		return exitApproved, nil
	case "PENDING_USER":
		return exitPending, nil
	case "DENIED":
		return exitDenied, nil
	default:
		return exitApproved, fmt.Errorf("unknown decision %q", out.Decision)
	}
}

func historyWithOptions(cfg *config.Config, limit int, stdout io.Writer) error {
	store, err := audit.NewStore(cfg.Audit.DBPath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	records, err := store.Recent(limit, 0)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "no decisions recorded")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(stdout, "%s  %-12s %-8s %s\n",
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
			rec.Decision, rec.Classification, rec.Command)
	}
	return nil
}

func statsWithOptions(cfg *config.Config, stdout io.Writer) error {
	store, err := audit.NewStore(cfg.Audit.DBPath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}

	fmt.Fprintf(stdout, "Total requests: %d\n", stats.TotalRequests)
	fmt.Fprintf(stdout, "By classification: READ=%d CREATE=%d UPDATE=%d DELETE=%d\n",
		stats.ReadCount, stats.CreateCount, stats.UpdateCount, stats.DeleteCount)
	fmt.Fprintf(stdout, "By decision: approved=%d pending=%d denied=%d skipped=%d\n",
		stats.ApprovedCount, stats.PendingCount, stats.DeniedCount, stats.SkippedCount)
	return nil
}

func cleanupWithOptions(cfg *config.Config, days int, stdout io.Writer) error {
	if days <= 0 {
		days = cfg.Audit.RetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("retention window must be positive, got %d days", days)
	}

	store, err := audit.NewStore(cfg.Audit.DBPath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	removed, err := store.Cleanup(days)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Fprintf(stdout, "removed %d decisions older than %d days\n", removed, days)
	return nil
}

// apiError turns a non-200 daemon response into a readable error.
func apiError(resp *http.Response) error {
	var out struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Error == "" {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out.Details != "" {
		return fmt.Errorf("%s: %s", out.Error, out.Details)
	}
	return fmt.Errorf("%s", out.Error)
}
