package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"classtrack/internal/attendance"
	"classtrack/internal/config"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download a day's attendance as CSV",
	Long: `Download attendance records from the ledger as CSV.
Defaults to today and all rooms; writes to stdout unless --output is given.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("date", "", "Day to export (YYYY-MM-DD, default today)")
	exportCmd.Flags().String("room", "", "Restrict the export to one room")
	exportCmd.Flags().String("output", "", "Write to a file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	day := attendance.Today()
	if raw := mustGetString(cmd, "date"); raw != "" {
		parsed, err := attendance.ParseDay(raw)
		if err != nil {
			return err
		}
		day = parsed
	}

	u, err := url.Parse(cfg.Agent.LedgerURL)
	if err != nil {
		return fmt.Errorf("invalid ledger URL %q: %w", cfg.Agent.LedgerURL, err)
	}
	u = u.JoinPath("api", "v1", "attendance", "export.csv")
	q := u.Query()
	q.Set("date", string(day))
	if room := mustGetString(cmd, "room"); room != "" {
		q.Set("room_id", room)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build export request: %w", err)
	}
	if cfg.Server.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Server.APIToken)
	}

	client := &http.Client{Timeout: time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, body)
	}

	out := os.Stdout
	if path := mustGetString(cmd, "output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
		fmt.Fprintf(os.Stderr, "Writing %s attendance to %s\n", day, path)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}
