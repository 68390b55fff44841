package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PentesterFlow/nodeprobe/internal/progress"
	"github.com/PentesterFlow/nodeprobe/internal/report"
	"github.com/PentesterFlow/nodeprobe/internal/request"
	"github.com/PentesterFlow/nodeprobe/internal/shutdown"
	"github.com/PentesterFlow/nodeprobe/internal/websocket"
	"github.com/PentesterFlow/nodeprobe/pkg/nodeprobe"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	envFile    string

	// Request flags
	pathParams  []string
	queryParams []string
	bodyJSON    string

	// Announce flags
	payload string

	// Probe flags
	showProgress bool

	// Watch flags
	channel     string
	maxMessages int
	exportPath  string

	// Reports flags
	reportLimit int
)

var rootCmd = &cobra.Command{
	Use:   "nodeprobe",
	Short: "Gateway node discovery, requests and API probing",
	Long: `nodeprobe talks to REST gateway nodes of a blockchain network.

It discovers nodes from the statistics service, dispatches requests with
fallback across candidates, probes every operation of the gateway's OpenAPI
description and watches websocket channels.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		required := cmd.Flags().Changed("env-file")
		return loadEnvFile(envFile, required)
	},
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List usable gateway nodes",
	RunE:  runNodes,
}

var requestCmd = &cobra.Command{
	Use:   "request METHOD PATH",
	Short: "Send one request with node fallback",
	Example: `  nodeprobe request GET /accounts/{accountId} --path accountId=TB...
  nodeprobe request POST /accounts --body '{"accountIds":["TB..."]}'`,
	Args: cobra.ExactArgs(2),
	RunE: runRequest,
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show node, chain, account and multisig info for an address",
	RunE:  runAccount,
}

var announceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Announce a signed transaction payload",
	RunE:  runAnnounce,
}

var currencyCmd = &cobra.Command{
	Use:   "currency",
	Short: "Print the network currency mosaic id",
	RunE:  runCurrency,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Call every operation of the gateway API description once",
	Long: `Probe fetches the gateway OpenAPI description, synthesizes one request per
operation and runs them against a single node. Failed operations are
reported but do not make the command fail.`,
	RunE: runProbe,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print messages from a websocket channel",
	RunE:  runWatch,
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List saved probe runs",
	RunE:  runReports,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Config file (YAML or JSON)")
	pf.StringVar(&envFile, "env-file", ".env", "Env file to load before reading the environment")
	pf.String("node-url", "", "Pin a gateway node URL (disables discovery)")
	pf.String("service-url", nodeprobe.DefaultConfig().ServiceURL, "Statistics service URL for node discovery")
	pf.Int("node-limit", nodeprobe.DefaultConfig().NodeLimit, "Maximum nodes to request from the statistics service")
	pf.Bool("ssl", true, "Prefer secure (https) nodes during discovery")
	pf.Int("timeout-ms", int(nodeprobe.DefaultConfig().Timeout/time.Millisecond), "Per-attempt timeout in milliseconds")
	pf.Bool("insecure", false, "Skip TLS certificate verification")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.Bool("debug", false, "Debug output")

	// Request command flags
	requestCmd.Flags().StringArrayVar(&pathParams, "path", nil, "Path parameter (key=value), repeatable")
	requestCmd.Flags().StringArrayVar(&queryParams, "query", nil, "Query parameter (key=value), repeatable")
	requestCmd.Flags().StringVar(&bodyJSON, "body", "", "JSON request body")

	accountCmd.Flags().String("address", "", "Account address (default: MY_ADDRESS)")

	announceCmd.Flags().StringVar(&payload, "payload", "", "Signed transaction payload (hex)")

	// Probe command flags
	probeCmd.Flags().String("openapi-url", "", "OpenAPI description URL")
	probeCmd.Flags().Int("concurrency", nodeprobe.DefaultConfig().Probe.Concurrency, "Parallel requests")
	probeCmd.Flags().String("methods", "get,post", "Comma separated HTTP methods to probe")
	probeCmd.Flags().Float64("rate-limit", 0, "Requests per second across workers (0 = unlimited)")
	probeCmd.Flags().Float64("node-rate-limit", 0, "Requests per second to the probed node (0 = unlimited)")
	probeCmd.Flags().StringP("output", "o", "", "Write the JSON report to this file")
	probeCmd.Flags().Bool("stream", false, "Stream report entries as JSON lines")
	probeCmd.Flags().String("report-db", "", "Save the run to this bbolt file")
	probeCmd.Flags().String("address", "", "Address used for {address} style path parameters")
	probeCmd.Flags().BoolVar(&showProgress, "progress", false, "Show a progress bar on stderr")

	// Watch command flags
	watchCmd.Flags().StringVar(&channel, "channel", websocket.ChannelBlock, "Channel to subscribe to (block, finalizedBlock)")
	watchCmd.Flags().IntVar(&maxMessages, "max", 0, "Stop after this many messages (0 = until interrupted)")
	watchCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Export the received messages as JSON to this file")

	reportsCmd.Flags().String("report-db", "nodeprobe-reports.db", "bbolt file holding saved runs")
	reportsCmd.Flags().IntVar(&reportLimit, "limit", 20, "Maximum runs to list")

	rootCmd.AddCommand(nodesCmd, requestCmd, accountCmd, announceCmd, currencyCmd, probeCmd, watchCmd, reportsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is one command invocation: a client bound to a signal-aware
// context, closed on exit.
type session struct {
	client *nodeprobe.Client
	handle *shutdown.Handler
	stop   func()
}

func (s *session) ctx() context.Context {
	return s.handle.Context()
}

func (s *session) close() {
	s.stop()
	if err := s.handle.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func newSession(cmd *cobra.Command, opts ...nodeprobe.Option) (*session, error) {
	v := viper.New()
	if err := bind(v, cmd.Flags()); err != nil {
		return nil, err
	}
	config, err := resolveConfig(v, configFile)
	if err != nil {
		return nil, err
	}

	client, err := nodeprobe.New(append([]nodeprobe.Option{
		nodeprobe.WithConfig(config),
		nodeprobe.WithOutput(cmd.OutOrStdout()),
	}, opts...)...)
	if err != nil {
		return nil, err
	}

	handle := shutdown.New(cmd.Context(), shutdown.Config{Log: client.Logger()})
	handle.RegisterCloser("client", client)

	return &session{
		client: client,
		handle: handle,
		stop:   handle.Listen(),
	}, nil
}

func runNodes(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	urls, err := s.client.Nodes(s.ctx())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, u := range urls {
		fmt.Fprintln(out, u)
	}
	return nil
}

func runRequest(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args[0], args[1])
	if err != nil {
		return err
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.client.Request(s.ctx(), req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "url: %s\n", res.URL)
	return printJSON(out, res.Payload)
}

// buildRequest assembles a logical request from the command line.
func buildRequest(method, path string) (*request.Logical, error) {
	req := request.New(method, path)

	params, err := request.ParseAssignments(pathParams)
	if err != nil {
		return nil, err
	}
	for k, v := range params {
		req.WithPathParam(k, v)
	}

	query, err := request.ParseAssignments(queryParams)
	if err != nil {
		return nil, err
	}
	for k, v := range query {
		req.WithQuery(k, v)
	}

	if bodyJSON != "" {
		var body any
		if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
			return nil, fmt.Errorf("invalid --body: %w", err)
		}
		req.WithBody(body)
	}
	return req, nil
}

func runAccount(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	overview, err := s.client.Account(s.ctx())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "nodeUrl: %s\n", overview.NodeURL)
	sections := []struct {
		name  string
		value any
	}{
		{"node", overview.Node},
		{"chain", overview.Chain},
		{"account", overview.Account},
		{"multisig", overview.Multisig},
	}
	for _, section := range sections {
		fmt.Fprintf(out, "%s:\n", section.name)
		if err := printJSON(out, section.value); err != nil {
			return err
		}
	}
	return nil
}

func runAnnounce(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.client.Announce(s.ctx(), strings.TrimSpace(payload))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "url: %s\n", res.URL)
	return printJSON(out, res.Payload)
}

func runCurrency(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	id, err := s.client.CurrencyMosaicID(s.ctx())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	var opts []nodeprobe.Option
	if showProgress {
		opts = append(opts, nodeprobe.WithProgress(cmd.ErrOrStderr()))
	}

	s, err := newSession(cmd, opts...)
	if err != nil {
		return err
	}
	defer s.close()

	run, err := s.client.Probe(s.ctx())
	if err != nil {
		return err
	}

	if s.client.Config().Verbose {
		progress.PrintSummary(cmd.ErrOrStderr(), run)
	}
	// Failed operations are part of the result, not a command failure.
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	recorder := websocket.NewRecorder(max(maxMessages, 0))
	out := cmd.OutOrStdout()

	session, err := s.client.Watch(s.ctx(), channel, maxMessages, func(msg websocket.Message) error {
		fmt.Fprintln(out, string(msg.Raw))
		return recorder.Record(msg)
	})
	if err != nil {
		return err
	}

	if exportPath != "" {
		data, err := recorder.ExportJSON(session)
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportPath, err)
		}
	}

	stats := recorder.Stats()
	fmt.Fprintf(cmd.ErrOrStderr(), "Received %d messages from %s\n", stats.TotalMessages, session.URL)
	return nil
}

func runReports(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("report-db")
	if configFile != "" && !cmd.Flags().Changed("report-db") {
		config, err := nodeprobe.LoadFromFile(configFile)
		if err != nil {
			return err
		}
		if config.Output.ReportDB != "" {
			path = config.Output.ReportDB
		}
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no report history at %s", path)
	}

	store, err := report.NewBoltStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(reportLimit)
	if err != nil {
		return err
	}
	return printRuns(cmd.OutOrStdout(), runs)
}

func printRuns(w io.Writer, runs []*report.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No saved runs")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTARTED\tNODE\tOK\tERROR\tTOTAL")
	for _, run := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\n",
			run.Seq,
			run.StartedAt.Format(time.RFC3339),
			run.Node,
			run.Success,
			run.Errors,
			run.Total,
		)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}
