package obscheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/tools/common"
	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/tools/ui"
)

// obscheck proves the observability pipeline end to end: Grafana answers,
// the service metrics carry exemplars, and an exemplar's trace can be pulled
// back out of Tempo.

type options struct {
	grafanaURL string
	window     time.Duration
	ci         bool
	timeout    time.Duration
}

const (
	prometheusProxyPath = "/api/datasources/proxy/uid/prometheus"
	tempoProxyPath      = "/api/datasources/proxy/uid/tempo"

	// exemplarQuery is a counter every tracked session increments, so a
	// stack with any traffic has exemplars on it.
	exemplarQuery = "geo_track_requests_total"
)

func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "obscheck",
		Short:         "Verify the metrics to traces pipeline through Grafana",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.grafanaURL, "grafana-url", "http://localhost:3001", "base URL of the Grafana instance")
	root.PersistentFlags().DurationVar(&opts.window, "window", 15*time.Minute, "how far back to look for exemplars")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "print a JSON result instead of the interactive UI")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall check timeout")

	root.AddCommand(newRunCommand(opts))
	return root
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run all pipeline checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			action := func(ctx context.Context) ([]string, error) {
				if opts.timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, opts.timeout)
					defer cancel()
				}
				return runChecks(ctx, *opts)
			}
			if opts.ci {
				details, err := action(context.Background())
				common.PrintCIResult(err == nil, "obscheck run", details, err)
				return err
			}
			_, err := ui.Run("obscheck run", "pipeline checks", action)
			return err
		},
	}
}

func runChecks(ctx context.Context, opts options) ([]string, error) {
	var details []string

	if _, err := grafanaGET(ctx, opts, "/api/health"); err != nil {
		return details, fmt.Errorf("grafana health: %w", err)
	}
	details = append(details, "grafana reachable")

	traceID, err := fetchTraceIDFromExemplar(ctx, opts, time.Now().Add(-opts.window))
	if err != nil {
		return details, err
	}
	details = append(details, "exemplar trace "+traceID)

	if _, err := grafanaGET(ctx, opts, tempoProxyPath+"/api/traces/"+traceID); err != nil {
		return details, fmt.Errorf("trace %s not retrievable: %w", traceID, err)
	}
	details = append(details, "trace retrievable in tempo")
	return details, nil
}

func grafanaGET(ctx context.Context, opts options, path string) ([]byte, error) {
	base, err := url.Parse(opts.grafanaURL)
	if err != nil {
		return nil, fmt.Errorf("parse grafana url: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("grafana returned %s for %s", resp.Status, path)
	}
	return body, nil
}

func fetchTraceIDFromExemplar(ctx context.Context, opts options, since time.Time) (string, error) {
	params := url.Values{}
	params.Set("query", exemplarQuery)
	params.Set("start", strconv.FormatInt(since.Unix(), 10))
	params.Set("end", strconv.FormatInt(time.Now().Unix(), 10))

	body, err := grafanaGET(ctx, opts, prometheusProxyPath+"/api/v1/query_exemplars?"+params.Encode())
	if err != nil {
		return "", err
	}

	var payload struct {
		Data []struct {
			Exemplars []struct {
				Timestamp float64           `json:"timestamp"`
				Labels    map[string]string `json:"labels"`
			} `json:"exemplars"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode exemplar response: %w", err)
	}

	var (
		bestID string
		bestAt time.Time
	)
	for _, series := range payload.Data {
		for _, ex := range series.Exemplars {
			at := time.UnixMilli(int64(ex.Timestamp * 1000))
			id := ex.Labels["trace_id"]
			if id == "" || at.Before(since) {
				continue
			}
			if at.After(bestAt) {
				bestAt = at
				bestID = id
			}
		}
	}
	if bestID == "" {
		return "", fmt.Errorf("no trace exemplar for %q newer than %s", exemplarQuery, since.UTC().Format(time.RFC3339))
	}
	return bestID, nil
}
