package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	loadURL      string
	loadProjects int
	loadLines    int
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Generate load against a running log aggregator",
	Example: `  docbind load --projects 10 --lines 100
  docbind load --url http://localhost:9090 --projects 1 --lines 5000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loadProjects <= 0 || loadLines < 0 {
			return fmt.Errorf("--projects must be positive and --lines must not be negative")
		}
		return runLoad(cmd.OutOrStdout(), &http.Client{Timeout: 10 * time.Second}, loadURL, loadProjects, loadLines)
	},
}

func init() {
	loadCmd.Flags().StringVar(&loadURL, "url", "http://localhost:8080", "server base URL")
	loadCmd.Flags().IntVar(&loadProjects, "projects", 10, "number of projects to create")
	loadCmd.Flags().IntVar(&loadLines, "lines", 100, "log lines per project")
}

var logMessages = []string{
	"request served", "cache miss", "worker started", "worker stopped",
	"retrying upstream call", "configuration reloaded", "slow query",
}

// generateProjectName generates a random 6-letter name
func generateProjectName() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	name := make([]byte, 6)
	for i := range name {
		name[i] = letters[rand.Intn(len(letters))]
	}
	return string(name)
}

// post sends body as JSON and decodes the created document.
func post(client *http.Client, url string, body interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var doc map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return doc, nil
}

func runLoad(out io.Writer, client *http.Client, baseURL string, projects, linesPerProject int) error {
	baseURL = strings.TrimRight(baseURL, "/")
	total := projects * (1 + linesPerProject)
	fmt.Fprintf(out, "Starting load test: %d projects with %d log lines each against %s\n", projects, linesPerProject, baseURL)

	startTime := time.Now()
	successCount, errorCount := 0, 0
	reportInterval := max(1, total/10)
	done := 0

	report := func() {
		done++
		if done%reportInterval == 0 || done == total {
			rate := float64(done) / time.Since(startTime).Seconds()
			fmt.Fprintf(out, "Progress: %d/%d requests (%.1f%%) - Rate: %.1f req/sec - Success: %d, Errors: %d\n",
				done, total, float64(done)/float64(total)*100, rate, successCount, errorCount)
		}
	}

	for p := 0; p < projects; p++ {
		project, err := post(client, baseURL+"/projects", map[string]interface{}{"name": generateProjectName()})
		if err != nil {
			errorCount++
			fmt.Fprintf(out, "Error creating project %d: %v\n", p+1, err)
			// Lines of a missing project cannot be created.
			for i := 0; i <= linesPerProject; i++ {
				report()
			}
			continue
		}
		successCount++
		report()

		for i := 0; i < linesPerProject; i++ {
			_, err := post(client, baseURL+"/log-lines", map[string]interface{}{
				"projectId": project["_id"],
				"message":   logMessages[rand.Intn(len(logMessages))],
			})
			if err != nil {
				errorCount++
				fmt.Fprintf(out, "Error creating log line %d of project %d: %v\n", i+1, p+1, err)
			} else {
				successCount++
			}
			report()
		}
	}

	totalTime := time.Since(startTime)
	fmt.Fprintln(out, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(out, "LOAD TEST COMPLETE")
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "Requests attempted: %d\n", total)
	fmt.Fprintf(out, "Successful:         %d\n", successCount)
	fmt.Fprintf(out, "Failed:             %d\n", errorCount)
	fmt.Fprintf(out, "Total time:         %v\n", totalTime)
	fmt.Fprintf(out, "Average rate:       %.2f req/sec\n", float64(total)/totalTime.Seconds())

	if errorCount > 0 {
		return fmt.Errorf("%d of %d requests failed", errorCount, total)
	}
	return nil
}
