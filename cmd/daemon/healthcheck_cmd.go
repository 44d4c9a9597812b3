// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"
)

// runHealthcheckCLI probes the local daemon's health endpoint and reports
// through the exit code, for container HEALTHCHECK directives. The
// endpoint is outside the auth realms, so no credentials are needed.
func runHealthcheckCLI(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("healthcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	port := fs.Int("port", 8080, "API port to check")
	timeout := fs.Duration("timeout", 5*time.Second, "check timeout")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	url := fmt.Sprintf("http://localhost:%d/api/v1/health", *port)
	client := http.Client{Timeout: *timeout}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(stderr, "Healthcheck failed (network): %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Healthcheck failed (status): %d %s\n", resp.StatusCode, resp.Status)
		return 1
	}

	fmt.Fprintln(stdout, "Healthcheck successful")
	return 0
}
