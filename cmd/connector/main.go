// Package main is a small CLI that triggers a sync run against a running
// pipeline's coordinator API and polls it to completion. It exists because
// connectors run in-process inside cmd/pipeline rather than as separate
// connector processes; this is the operator's entry point for kicking one
// off by hand instead of waiting on the schedule.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "pipeline API base URL")
		sourceID = flag.String("source", "", "source_id to sync")
		syncType = flag.String("type", "incremental", "full or incremental")
		wait     = flag.Bool("wait", true, "poll until the run reaches a terminal status")
	)
	flag.Parse()

	if *sourceID == "" {
		fmt.Fprintln(os.Stderr, "-source is required")
		os.Exit(2)
	}

	runID, err := triggerSync(*baseURL, *sourceID, *syncType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trigger sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sync_run_id: %s\n", runID)

	if !*wait {
		return
	}
	status, errMsg, err := pollUntilTerminal(*baseURL, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poll sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("status: %s\n", status)
	if errMsg != "" {
		fmt.Printf("error_message: %s\n", errMsg)
		os.Exit(1)
	}
}

func triggerSync(baseURL, sourceID, syncType string) (string, error) {
	body, err := json.Marshal(map[string]string{"source_id": sourceID, "sync_type": syncType})
	if err != nil {
		return "", err
	}
	resp, err := http.Post(baseURL+"/api/v1/sync", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		var errBody map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return "", fmt.Errorf("unexpected status %d: %v", resp.StatusCode, errBody)
	}
	var out struct {
		SyncRunID string `json:"sync_run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.SyncRunID, nil
}

func pollUntilTerminal(baseURL, runID string) (status, errMsg string, err error) {
	for i := 0; i < 600; i++ {
		resp, err := http.Get(baseURL + "/api/v1/sync/" + runID)
		if err != nil {
			return "", "", err
		}
		var run struct {
			Status       string `json:"status"`
			ErrorMessage string `json:"error_message"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&run)
		resp.Body.Close()
		if decodeErr != nil {
			return "", "", decodeErr
		}
		switch run.Status {
		case "completed", "failed", "cancelled":
			return run.Status, run.ErrorMessage, nil
		}
		time.Sleep(time.Second)
	}
	return "", "", fmt.Errorf("timed out waiting for sync run %s to finish", runID)
}
