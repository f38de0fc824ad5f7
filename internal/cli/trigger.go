package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/david/opportunity-scout/internal/ingest"
)

var (
	triggerServer string
	triggerAgent  string
	triggerJob    string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Call a running server's cron endpoint",
	Long:  `Calls /api/cron/scan (or /api/cron/reminders with --job reminders) using CRON_SECRET.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := strings.TrimSpace(os.Getenv("CRON_SECRET"))
		if secret == "" {
			return errors.New("missing CRON_SECRET environment variable")
		}
		ctx, cancel := signalContext()
		defer cancel()

		endpoint, err := triggerURL(triggerServer, triggerJob, triggerAgent)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+secret)

		client := &http.Client{Timeout: 15 * time.Minute}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("error sending request: %w", err)
		}
		defer resp.Body.Close()

		return printTriggerResponse(cmd.OutOrStdout(), resp, triggerJob)
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerServer, "server", "http://localhost:8081", "server base URL")
	triggerCmd.Flags().StringVarP(&triggerAgent, "agent", "a", "", "agent profile for scans")
	triggerCmd.Flags().StringVar(&triggerJob, "job", "scan", "scan or reminders")
}

func triggerURL(base, job, agent string) (string, error) {
	switch job {
	case "scan", "reminders":
	default:
		return "", fmt.Errorf("unknown job %q", job)
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/api/cron/" + job)
	if err != nil {
		return "", err
	}
	if job == "scan" && agent != "" {
		q := u.Query()
		q.Set("agent", agent)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func printTriggerResponse(w io.Writer, resp *http.Response, job string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Response Status: %s\n", resp.Status)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("trigger failed: %s", strings.TrimSpace(string(body)))
	}
	if job == "scan" {
		var res ingest.RunResult
		if err := json.Unmarshal(body, &res); err == nil {
			renderRunResult(w, &res)
			return nil
		}
	}
	_, err = w.Write(append(body, '\n'))
	return err
}
