package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/juanpasaflipz/agentic-devops/internal/config"
	"github.com/juanpasaflipz/agentic-devops/internal/ledger"
	"github.com/juanpasaflipz/agentic-devops/internal/ledger/backend"
	"github.com/juanpasaflipz/agentic-devops/internal/logging"
	"github.com/juanpasaflipz/agentic-devops/internal/policy"
	"github.com/juanpasaflipz/agentic-devops/internal/runbook"
	"github.com/juanpasaflipz/agentic-devops/pkg/types"
)

const defaultAddr = "http://localhost:8080"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitDenied  = 3
)

var errDenied = errors.New("event denied by policy")

// usageError marks argument problems so they exit with exitUsage.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

var httpClient = &http.Client{Timeout: 30 * time.Second}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	logging.SetupWriter(stderr, "warn", logging.FormatConsole)

	root := newRootCmd(stdout)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)

	err := root.Execute()
	var uerr usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errDenied):
		return exitDenied
	case errors.As(err, &uerr):
		fmt.Fprintln(stderr, err.Error())
		_ = root.Usage()
		return exitUsage
	case strings.HasPrefix(err.Error(), "unknown command"), strings.HasPrefix(err.Error(), "unknown flag"),
		strings.Contains(err.Error(), "accepts "), strings.Contains(err.Error(), "requires "):
		fmt.Fprintln(stderr, err.Error())
		return exitUsage
	default:
		fmt.Fprintln(stderr, err.Error())
		return exitFailure
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	_ = v.BindEnv("url", config.EnvPrefix+"_URL")
	_ = v.BindEnv("token", config.EnvPrefix+"_TOKEN", config.EnvPrefix+"_AUTH_DEV_TOKEN")
	_ = v.BindEnv("policy", config.EnvPrefix+"_POLICY_PATH")
	v.SetDefault("url", defaultAddr)
	v.SetDefault("policy", config.DefaultPolicyPath)

	root := &cobra.Command{
		Use:           "opsgate",
		Short:         "Operator CLI for the opsgate gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return usageError{msg: "a subcommand is required"}
		},
	}
	root.PersistentFlags().String("url", "", "gateway base URL (env OPSGATE_URL)")
	root.PersistentFlags().String("token", "", "bearer token (env OPSGATE_TOKEN)")
	root.PersistentFlags().String("policy", "", "policy document path (env OPSGATE_POLICY_PATH)")
	for _, key := range []string{"url", "token", "policy"} {
		_ = v.BindPFlag(key, root.PersistentFlags().Lookup(key))
	}

	root.AddCommand(
		newPrecheckCmd(v, stdout),
		newEventCmd(v, stdout),
		newRunsCmd(v, stdout),
		newRunbookCmd(stdout),
		newPolicyCmd(v, stdout),
		newSeedCmd(stdout),
	)
	return root
}

func newPrecheckCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	var now string
	cmd := &cobra.Command{
		Use:   "precheck <event.json>",
		Short: "Evaluate an event against the policy offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evt, err := readEvent(args[0])
			if err != nil {
				return err
			}
			holder, err := policy.NewHolder(v.GetString("policy"))
			if err != nil {
				return err
			}
			gate := policy.NewGate(holder)
			if now != "" {
				at, err := time.Parse(time.RFC3339, now)
				if err != nil {
					return usageError{msg: fmt.Sprintf("--now must be RFC 3339: %v", err)}
				}
				gate.WithClock(func() time.Time { return at })
			}
			res := gate.Precheck(evt)
			if err := writeJSON(stdout, struct {
				policy.Result
				Approvals policy.ApprovalSnapshot `json:"approvals"`
			}{res, gate.Approvals(evt)}); err != nil {
				return err
			}
			if !res.Allowed {
				return errDenied
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&now, "now", "", "reference instant when the event has no nowIso")
	return cmd
}

func newEventCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	var idemKey string
	cmd := &cobra.Command{
		Use:   "event <event.json>",
		Short: "Send an event to the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// #nosec G304 -- operator-provided event file.
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(v.GetString("url"), "/")+"/event", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if idemKey != "" {
				req.Header.Set("Idempotency-Key", idemKey)
			}
			respBody, status, err := do(req, v.GetString("token"))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("event failed (%d): %s", status, strings.TrimSpace(string(respBody)))
			}
			var out types.Outcome
			if err := json.Unmarshal(respBody, &out); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			if err := writeJSON(stdout, out); err != nil {
				return err
			}
			if out.Status == types.OutcomeBlocked {
				return errDenied
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "replay-safe delivery key")
	return cmd
}

func newRunsCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := strings.TrimRight(v.GetString("url"), "/") + "/runs"
			if limit > 0 {
				url += fmt.Sprintf("?limit=%d", limit)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			respBody, status, err := do(req, v.GetString("token"))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("runs failed (%d): %s", status, strings.TrimSpace(string(respBody)))
			}
			if jsonOut {
				_, err := stdout.Write(respBody)
				return err
			}
			var runs []types.RunView
			if err := json.Unmarshal(respBody, &runs); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			return printRuns(stdout, runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum runs to list (server caps at 50)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print raw JSON response")
	return cmd
}

func printRuns(w io.Writer, runs []types.RunView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tACTION\tSUMMARY")
	for _, r := range runs {
		var evt types.Event
		_ = json.Unmarshal(r.Event, &evt)
		var result types.Fields
		_ = json.Unmarshal(r.Result, &result)
		summary := result.Str("summary")
		if summary == "" {
			summary = result.Str("reason")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt.Format(time.RFC3339), r.Status, evt.Str("action"), summary)
	}
	return tw.Flush()
}

func newRunbookCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runbook",
		Short: "Inspect runbooks",
	}
	var vars []string
	parse := &cobra.Command{
		Use:   "parse <file>",
		Short: "Print the tool calls a runbook would dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := types.Fields{}
			for _, kv := range vars {
				k, val, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return usageError{msg: fmt.Sprintf("--var must be key=value, got %q", kv)}
				}
				fields[k] = val
			}
			// #nosec G304 -- operator-provided runbook file.
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rb, err := runbook.Parse(args[0], data)
			if err != nil {
				return err
			}

			type parsedStep struct {
				Step    string       `json:"step"`
				Tool    string       `json:"tool,omitempty"`
				Params  types.Fields `json:"params,omitempty"`
				Skipped bool         `json:"skipped,omitempty"`
			}
			out := make([]parsedStep, 0, len(rb.Steps))
			for _, raw := range rb.Steps {
				step := runbook.Template(raw, fields)
				call, ok := runbook.ParseCall(step)
				if !ok {
					out = append(out, parsedStep{Step: step, Skipped: true})
					continue
				}
				out = append(out, parsedStep{Step: step, Tool: call.Tool, Params: call.Params})
			}
			return writeJSON(stdout, out)
		},
	}
	parse.Flags().StringArrayVar(&vars, "var", nil, "template variable key=value (repeatable)")
	cmd.AddCommand(parse)
	return cmd
}

func newPolicyCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the policy document",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the loaded policy and its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := v.GetString("policy")
			loaded, err := policy.LoadPolicy(path)
			if err != nil {
				return err
			}
			hash := loaded.Hash
			if hash == "" {
				hash = "none (no policy file, all gates open)"
			}
			fmt.Fprintf(stdout, "# path: %s\n# policy_hash: %s\n", path, hash)
			enc := yaml.NewEncoder(stdout)
			enc.SetIndent(2)
			if err := enc.Encode(loaded.Policy); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.AddCommand(show)
	return cmd
}

func newSeedCmd(stdout io.Writer) *cobra.Command {
	var driver, dsn string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a sample completed run into a ledger database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if driver == "" || dsn == "" {
				return usageError{msg: "seed requires --driver and --dsn"}
			}
			store := backend.Open(cmd.Context(), driver, dsn)
			defer store.Close()
			if !store.Durable() {
				return fmt.Errorf("ledger %s unreachable", driver)
			}

			evt, err := json.Marshal(types.Event{"source": "seed", "action": "ci", "repo": "acme/shop", "ref": "refs/heads/main"})
			if err != nil {
				return err
			}
			id, err := store.CreateRun(cmd.Context(), evt)
			if err != nil {
				return err
			}
			if err := store.UpdateRun(cmd.Context(), id, ledger.RunUpdate{
				Status: ledger.StatusPtr(ledger.RunCompleted),
				Result: json.RawMessage(`{"ok":true,"summary":"Seeded run"}`),
			}); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Seeded run id %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "ledger driver: sqlite or postgres")
	cmd.Flags().StringVar(&dsn, "dsn", "", "ledger data source name")
	return cmd
}

func readEvent(path string) (types.Event, error) {
	// #nosec G304 -- operator-provided event file.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var evt types.Event
	if err := dec.Decode(&evt); err != nil {
		return nil, fmt.Errorf("parse event %s: %w", path, err)
	}
	if evt == nil {
		return nil, fmt.Errorf("event %s must be a JSON object", path)
	}
	return evt, nil
}

func do(req *http.Request, token string) ([]byte, int, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
