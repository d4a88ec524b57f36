package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/meetflow/ai/observability/logging"
	"github.com/hrygo/meetflow/ai/pipeline"
	"github.com/hrygo/meetflow/internal/profile"
	"github.com/hrygo/meetflow/internal/version"
	"github.com/hrygo/meetflow/server"
	"github.com/hrygo/meetflow/store"
)

var (
	rootCmd = &cobra.Command{
		Use:           "meetflow",
		Short:         `Turn meeting notes into a summary, tracked tickets and documentation pages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only load .env for direct binary execution (not when running as systemd service)
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
	}

	processCmd = &cobra.Command{
		Use:   "process",
		Short: "Process meeting notes from a file or stdin and print the result",
		Args:  cobra.NoArgs,
		RunE:  runProcess,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "Inspect run history",
	}

	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE:  runRunsList,
	}

	runsGetCmd = &cobra.Command{
		Use:   "get <uid>",
		Short: "Print the stored result of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsGet,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.StringFull())
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 8080)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8080, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "", "run history database driver (sqlite, postgres); empty disables history")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("meetflow")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	processCmd.Flags().StringP("file", "f", "", "read meeting notes from file instead of stdin")
	processCmd.Flags().StringP("title", "t", "", "meeting title")
	processCmd.Flags().StringP("output", "o", "json", "output format (json, text)")

	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsListCmd.Flags().String("status", "", "only runs with this status")

	runsCmd.AddCommand(runsListCmd, runsGetCmd)
	rootCmd.AddCommand(processCmd, serveCmd, runsCmd, versionCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version.String(),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	logging.Setup(instanceProfile.IsDev())
	return instanceProfile, nil
}

func runProcess(cmd *cobra.Command, _ []string) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}

	notes, err := readNotes(cmd)
	if err != nil {
		return err
	}
	title, _ := cmd.Flags().GetString("title")
	output, _ := cmd.Flags().GetString("output")

	ctx, stop := signal.NotifyContext(cmd.Context(), terminationSignals...)
	defer stop()

	app, err := newApp(ctx, instanceProfile)
	if err != nil {
		return err
	}
	defer app.Close()

	result := app.pipeline.Process(ctx, pipeline.Request{MeetingNotes: notes, MeetingTitle: title})
	if err := printResult(cmd.OutOrStdout(), result, output); err != nil {
		return err
	}
	if !result.Succeeded() {
		return errors.New(result.Status)
	}
	return nil
}

func readNotes(cmd *cobra.Command) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	var (
		data []byte
		err  error
	)
	if file != "" {
		data, err = os.ReadFile(file)
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read meeting notes")
	}
	return string(data), nil
}

func printResult(w io.Writer, result *pipeline.Result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "text":
		fmt.Fprintf(w, "Status:  %s\n", result.Status)
		fmt.Fprintf(w, "Mode:    %s\n", result.Mode)
		fmt.Fprintf(w, "Run:     %s\n\n", result.RunID)
		fmt.Fprintf(w, "%s\n\n", result.MeetingSummary)
		for i, issue := range result.ExtractedIssues {
			key := ""
			if i < len(result.Outcomes) {
				key = result.Outcomes[i].TicketKey
				if result.Outcomes[i].Source == pipeline.SourceSkipped {
					key = "(skipped)"
				}
			}
			fmt.Fprintf(w, "%2d. [%s/%s] %s  %s\n", i+1, issue.IssueType, issue.Priority, issue.Summary, key)
		}
		fmt.Fprintf(w, "\nTickets: %d  Pages: %d\n", result.TotalTickets, result.TotalPages)
		for _, page := range result.ConfluencePages {
			fmt.Fprintf(w, "  %s\n", page)
		}
		return nil
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	app, err := newApp(ctx, instanceProfile)
	if err != nil {
		return err
	}

	s, err := server.NewServer(ctx, instanceProfile, app.store, app.pipeline, app.metrics)
	if err != nil {
		app.Close()
		return errors.Wrap(err, "failed to create server")
	}

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	signal.Notify(c, terminationSignals...)

	if err := s.Start(ctx); err != nil {
		app.Close()
		return err
	}
	printGreetings(instanceProfile, s.Addr(), app.pipeline.Mode())

	go func() {
		<-c
		s.Shutdown(ctx)
		app.drainWebhooks()
		app.shutdownTracing()
		cancel()
	}()

	// Wait for CTRL-C.
	<-ctx.Done()
	return nil
}

func openStore(ctx context.Context) (*store.Store, error) {
	instanceProfile, err := loadProfile()
	if err != nil {
		return nil, err
	}
	if !instanceProfile.HasStore() {
		return nil, errors.New("run history is disabled; pass --driver and --dsn or --data")
	}
	return newStore(ctx, instanceProfile)
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	find := &store.FindRun{Limit: &limit}
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		find.Status = &status
	}
	runs, err := st.ListRuns(cmd.Context(), find)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d tickets\t%d pages\t%s\n",
			run.UID, run.Mode, run.Status, run.TicketCount, run.PageCount, run.Title)
	}
	return nil
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return errors.Errorf("run %s not found", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), run.Payload)
	return nil
}

func printGreetings(profile *profile.Profile, addr, mode string) {
	fmt.Printf("meetflow %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	if profile.Driver != "" {
		fmt.Printf("Database driver: %s\n", profile.Driver)
	} else {
		fmt.Println("Run history: disabled")
	}
	fmt.Printf("Ticket mode: %s\n", mode)
	fmt.Printf("Server running on %s\n", addr)
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("meetflow failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
