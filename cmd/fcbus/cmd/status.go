package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/fcbus/pkg/version"
)

var (
	statusHTTP3    bool
	statusInsecure bool
	statusHeaders  bool
)

// statusCmd queries a running server.
var statusCmd = &cobra.Command{
	Use:   "status [url]",
	Short: "Query a running fcbus server",
	Long: `Fetch a control API endpoint and print the response.

Examples:
  fcbus status http://localhost:8080/api/v1/bus
  fcbus status https://localhost:8443/health --http3 --insecure`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := "http://localhost:8080/health"
		if len(args) == 1 {
			url = args[0]
		}

		client := newHTTPClient(statusHTTP3, statusInsecure, 10*time.Second)
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", version.GetInfo().UserAgent())

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Status: %s\n", resp.Status)
		fmt.Fprintf(out, "Protocol: %s\n", resp.Proto)
		if statusHeaders {
			fmt.Fprintf(out, "Headers:\n")
			for k, v := range resp.Header {
				fmt.Fprintf(out, "  %s: %v\n", k, v)
			}
		}
		fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(string(body)))

		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusHTTP3, "http3", false, "Use HTTP/3")
	statusCmd.Flags().BoolVar(&statusInsecure, "insecure", false, "Skip TLS certificate verification")
	statusCmd.Flags().BoolVar(&statusHeaders, "headers", false, "Print response headers")
}
