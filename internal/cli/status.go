package cli

import (
	"context"
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

	"github.com/vietddude/blockmon/internal/core/config"
	"github.com/vietddude/blockmon/internal/core/domain"
)

// errUnhealthy makes `blockmon status` usable as a container health probe.
var errUnhealthy = errors.New("node is unhealthy")

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running blockmon instance and print its health",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "address of the running instance (defaults to server.listen)")
	rootCmd.AddCommand(statusCmd)
}

type healthResponse struct {
	Status    string        `json:"status"`
	Reason    string        `json:"reason"`
	LastBlock *domain.Block `json:"lastBlock"`
}

type statusReport struct {
	Healthy   bool
	Reason    string
	LastBlock *domain.Block
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		addr = cfg.Server.Listen
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	report, err := probe(ctx, http.DefaultClient, addr)
	if err != nil {
		return err
	}

	printStatus(os.Stdout, report, time.Now())
	if !report.Healthy {
		return errUnhealthy
	}
	return nil
}

// probe reads /health and /lastBlock from a running instance.
func probe(ctx context.Context, client *http.Client, baseURL string) (statusReport, error) {
	var health healthResponse
	code, err := getJSON(ctx, client, baseURL+"/health", &health)
	if err != nil {
		return statusReport{}, err
	}
	if code != http.StatusOK && code != http.StatusServiceUnavailable {
		return statusReport{}, fmt.Errorf("unexpected /health status %d", code)
	}

	var last struct {
		LastBlock *domain.Block `json:"lastBlock"`
	}
	if _, err := getJSON(ctx, client, baseURL+"/lastBlock", &last); err != nil {
		return statusReport{}, err
	}

	return statusReport{
		Healthy:   code == http.StatusOK,
		Reason:    health.Reason,
		LastBlock: last.LastBlock,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", url, err)
	}
	return resp.StatusCode, nil
}

func printStatus(out io.Writer, r statusReport, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tREASON\tBLOCK\tHASH\tAGE")

	status := "healthy"
	if !r.Healthy {
		status = "unhealthy"
	}
	reason := r.Reason
	if reason == "" {
		reason = "-"
	}

	if r.LastBlock == nil {
		_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\t-\n", status, reason)
	} else {
		age := now.Sub(time.Unix(int64(r.LastBlock.Timestamp), 0)).Truncate(time.Second)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			status, reason, r.LastBlock.Number, r.LastBlock.Hash.TerminalString(), age)
	}
	_ = w.Flush()
}
