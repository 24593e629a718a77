/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	hubURL       = "http://localhost:8443"
	verbose      = false
	adminKeyFile = ""
)

type AgentSummary struct {
	ID           string         `json:"id"`
	Address      string         `json:"address"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       string         `json:"status"`
	LastSeen     time.Time      `json:"last_seen"`
	CreatedAt    time.Time      `json:"created_at"`
}

type HubStats struct {
	TotalAgents   int            `json:"total_agents"`
	OnlineAgents  int            `json:"online_agents"`
	IdleAgents    int            `json:"idle_agents"`
	OfflineAgents int            `json:"offline_agents"`
	ByCapability  map[string]int `json:"by_capability"`
	UptimeSeconds float64        `json:"uptime_seconds"`
}

type ControlResponse struct {
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Count   int            `json:"count,omitempty"`
	Limit   int            `json:"limit,omitempty"`
	Offset  int            `json:"offset,omitempty"`
	Agents  []AgentSummary `json:"agents,omitempty"`
	Agent   *AgentSummary  `json:"agent,omitempty"`
	Stats   *HubStats      `json:"stats,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[1:]
	commandIndex := 0
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			commandIndex = i
			break
		}
		if arg == "--hub-url" && i+1 < len(args) {
			hubURL = args[i+1]
			i++
		} else if arg == "--admin-key-file" && i+1 < len(args) {
			adminKeyFile = args[i+1]
			i++
		} else if arg == "-v" || arg == "--verbose" {
			verbose = true
		}
	}

	if commandIndex >= len(args) {
		printUsage()
		os.Exit(1)
	}

	command := args[commandIndex]
	commandArgs := args[commandIndex+1:]

	switch command {
	case "agents":
		handleAgentsCommand(commandArgs)
	case "stats":
		handleStatsCommand(commandArgs)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("M2M Admin Tool")
	fmt.Println("")
	fmt.Println("Usage: m2m-admin [global-flags] <command> [args]")
	fmt.Println("")
	fmt.Println("Global Flags:")
	fmt.Println("  --hub-url <url>            Hub URL (default: http://localhost:8443)")
	fmt.Println("  --admin-key-file <file>    Admin API key file, required for agents disconnect")
	fmt.Println("  -v, --verbose              Verbose output")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  agents list [flags]             List registered agents")
	fmt.Println("  agents get <id>                 Show one agent's directory record")
	fmt.Println("  agents disconnect <id>           Force an agent offline (requires admin key)")
	fmt.Println("  stats                            Show directory statistics")
	fmt.Println("")
	fmt.Println("Agents List Flags:")
	fmt.Println("  --status <status>          Filter by status: online, idle, offline")
	fmt.Println("  --capability <name>        Filter by capability (comma-separated for multiple)")
	fmt.Println("  --limit <n>                Page size")
	fmt.Println("  --offset <n>               Page offset")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  m2m-admin agents list --capability translate.text")
	fmt.Println("  m2m-admin agents get a1b2c3d4e5f6")
	fmt.Println("  m2m-admin --admin-key-file admin.key agents disconnect a1b2c3d4e5f6")
	fmt.Println("  m2m-admin --hub-url http://hub.example.com:8443 stats")
}

func handleAgentsCommand(args []string) {
	if len(args) == 0 {
		fmt.Println("Agents commands: list, get, disconnect")
		os.Exit(1)
	}

	subcommand := args[0]
	subcommandArgs := args[1:]

	switch subcommand {
	case "list":
		handleAgentsList(subcommandArgs)
	case "get":
		handleAgentsGet(subcommandArgs)
	case "disconnect":
		handleAgentsDisconnect(subcommandArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown agents command: %s\n", subcommand)
		os.Exit(1)
	}
}

func handleAgentsList(args []string) {
	listFlags := flag.NewFlagSet("list", flag.ExitOnError)

	var status, capability string
	var limit, offset int
	listFlags.StringVar(&status, "status", "", "Filter by status")
	listFlags.StringVar(&capability, "capability", "", "Filter by capability")
	listFlags.IntVar(&limit, "limit", 0, "Page size")
	listFlags.IntVar(&offset, "offset", 0, "Page offset")

	if err := listFlags.Parse(args); err != nil {
		os.Exit(1)
	}

	query := make([]string, 0, 4)
	if status != "" {
		query = append(query, "status="+status)
	}
	if capability != "" {
		query = append(query, "capability="+capability)
	}
	if limit > 0 {
		query = append(query, fmt.Sprintf("limit=%d", limit))
	}
	if offset > 0 {
		query = append(query, fmt.Sprintf("offset=%d", offset))
	}

	endpoint := "/v1/agents"
	if len(query) > 0 {
		endpoint += "?" + strings.Join(query, "&")
	}

	resp, err := makeAPIRequest("GET", endpoint, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list agents: %v\n", err)
		os.Exit(1)
	}

	var response ControlResponse
	if err := json.Unmarshal(resp, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d agent(s):\n\n", response.Count)
	for _, a := range response.Agents {
		printAgent(a)
	}
}

func handleAgentsGet(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: m2m-admin agents get <id>\n")
		os.Exit(1)
	}
	id := args[0]

	resp, err := makeAPIRequest("GET", "/v1/agents/"+id, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get agent: %v\n", err)
		os.Exit(1)
	}

	var response ControlResponse
	if err := json.Unmarshal(resp, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}
	if response.Agent == nil {
		fmt.Fprintf(os.Stderr, "Agent not found: %s\n", id)
		os.Exit(1)
	}
	printAgent(*response.Agent)
}

func handleAgentsDisconnect(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: m2m-admin agents disconnect <id>\n")
		os.Exit(1)
	}
	id := args[0]

	resp, err := makeAdminAPIRequest("DELETE", "/v1/admin/agents/"+id, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to disconnect agent: %v\n", err)
		os.Exit(1)
	}

	var response ControlResponse
	if err := json.Unmarshal(resp, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Disconnected agent: %s\n", id)
}

func handleStatsCommand(args []string) {
	statsFlags := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := statsFlags.Parse(args); err != nil {
		os.Exit(1)
	}

	resp, err := makeAPIRequest("GET", "/v1/stats", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get stats: %v\n", err)
		os.Exit(1)
	}

	var response ControlResponse
	if err := json.Unmarshal(resp, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		os.Exit(1)
	}
	if response.Stats == nil {
		fmt.Fprintln(os.Stderr, "No stats returned")
		os.Exit(1)
	}

	s := response.Stats
	fmt.Printf("Total agents:   %d\n", s.TotalAgents)
	fmt.Printf("  online:       %d\n", s.OnlineAgents)
	fmt.Printf("  idle:         %d\n", s.IdleAgents)
	fmt.Printf("  offline:      %d\n", s.OfflineAgents)
	fmt.Printf("Uptime:         %.0fs\n", s.UptimeSeconds)
	if len(s.ByCapability) > 0 {
		fmt.Println("By capability:")
		for cap, count := range s.ByCapability {
			fmt.Printf("  %-30s %d\n", cap, count)
		}
	}
}

func printAgent(a AgentSummary) {
	fmt.Printf("  %s\n", a.ID)
	fmt.Printf("    address:      %s\n", a.Address)
	fmt.Printf("    status:       %s\n", a.Status)
	fmt.Printf("    capabilities: %s\n", strings.Join(a.Capabilities, ", "))
	fmt.Printf("    last seen:    %s\n", a.LastSeen.Format(time.RFC3339))
	fmt.Println()
}

func makeAPIRequest(method, endpoint string, body interface{}) ([]byte, error) {
	url := strings.TrimRight(hubURL, "/") + endpoint

	if verbose {
		fmt.Printf("Making %s request to: %s\n", method, url)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if verbose {
		fmt.Printf("Response status: %d\n", resp.StatusCode)
		fmt.Printf("Response body: %s\n", string(respBody))
	}

	if resp.StatusCode >= 400 {
		var errorResp map[string]interface{}
		if json.Unmarshal(respBody, &errorResp) == nil {
			if msg, ok := errorResp["message"].(string); ok {
				return nil, fmt.Errorf("hub error (%d): %s", resp.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("hub error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func makeAdminAPIRequest(method, endpoint string, body interface{}) ([]byte, error) {
	if adminKeyFile == "" {
		return nil, fmt.Errorf("admin key file is required for administrative operations. Use --admin-key-file flag")
	}

	adminKeyBytes, err := os.ReadFile(adminKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin key file: %w", err)
	}
	adminKey := strings.TrimSpace(string(adminKeyBytes))
	if adminKey == "" {
		return nil, fmt.Errorf("admin key file is empty")
	}

	url := strings.TrimRight(hubURL, "/") + endpoint

	if verbose {
		fmt.Printf("Making admin %s request to: %s\n", method, url)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Admin-Key", adminKey)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if verbose {
		fmt.Printf("Response status: %d\n", resp.StatusCode)
		fmt.Printf("Response body: %s\n", string(respBody))
	}

	if resp.StatusCode >= 400 {
		var errorResp map[string]interface{}
		if json.Unmarshal(respBody, &errorResp) == nil {
			if msg, ok := errorResp["message"].(string); ok {
				return nil, fmt.Errorf("hub error (%d): %s", resp.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("hub error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
