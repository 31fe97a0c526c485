// MBFlow CLI - Command-line tool for workflow management.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/visualization"
)

const (
	version = "1.0.0"
	usage   = `MBFlow CLI - Workflow management tool

USAGE:
    mbflow-cli <command> [options]

COMMANDS:
    workflow show <id>    Show workflow diagram
    workflow list         List all workflows
    version               Show version information
    help                  Show this help message

WORKFLOW SHOW OPTIONS:
    -direction <dir>      Diagram direction: TB, LR, RL, BT (default: TB)
    -config               Show node configuration details (default: true)
    -conditions           Show edge conditions (default: true)
    -output <file>        Save to file instead of stdout

CONNECTION OPTIONS:
    -endpoint <url>       MBFlow server endpoint (default: http://localhost:8585)
    -api-key <key>        API key for authentication
    -timeout <duration>   Request timeout (default: 30s)

EXAMPLES:
    # Show workflow as a Mermaid diagram
    mbflow-cli workflow show wf-123

    # Save the diagram to a file with a left-right layout
    mbflow-cli workflow show wf-123 -direction LR -output diagram.mmd

    # List all workflows
    mbflow-cli workflow list

ENVIRONMENT VARIABLES:
    MBFLOW_ENDPOINT       Server endpoint (overridden by -endpoint)
    MBFLOW_API_KEY        API key (overridden by -api-key)
`
)

// apiClient is a thin REST client over the workflow endpoints this CLI
// needs. It deliberately does not attempt to cover the whole API surface;
// it mirrors exactly the two calls the commands below issue.
type apiClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func newAPIClient(endpoint, apiKey string, timeout time.Duration) *apiClient {
	return &apiClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(body))
	}

	return json.Unmarshal(body, out)
}

func (c *apiClient) getWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var envelope struct {
		Data *models.Workflow `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+id, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("workflow %q not found", id)
	}
	return envelope.Data, nil
}

func (c *apiClient) listWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	var envelope struct {
		Workflows []*models.Workflow `json:"workflows"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows", &envelope); err != nil {
		return nil, err
	}
	return envelope.Workflows, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	godotenv.Load()

	command := os.Args[1]

	switch command {
	case "workflow":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: workflow command requires a subcommand (show, list)")
			fmt.Fprint(os.Stderr, usage)
			os.Exit(1)
		}
		subcommand := os.Args[2]
		switch subcommand {
		case "show":
			handleWorkflowShow(os.Args[3:])
		case "list":
			handleWorkflowList(os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown workflow subcommand: %s\n", subcommand)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("MBFlow CLI v%s\n", version)

	case "help", "-h", "--help":
		fmt.Print(usage)

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", command)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func handleWorkflowShow(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: workflow show requires a workflow ID")
		os.Exit(1)
	}

	workflowID := args[0]

	fs := flag.NewFlagSet("workflow show", flag.ExitOnError)
	direction := fs.String("direction", "TB", "Diagram direction: TB, LR, RL, BT")
	showConfig := fs.Bool("config", true, "Show node configuration details")
	showConditions := fs.Bool("conditions", true, "Show edge conditions")
	output := fs.String("output", "", "Save to file instead of stdout")
	endpoint := fs.String("endpoint", getEnv("MBFLOW_ENDPOINT", "http://localhost:8585"), "MBFlow server endpoint")
	apiKey := fs.String("api-key", getEnv("MBFLOW_API_KEY", ""), "API key for authentication")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")

	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := newAPIClient(*endpoint, *apiKey, *timeout)

	workflow, err := client.getWorkflow(ctx, workflowID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to get workflow '%s': %v\n", workflowID, err)
		os.Exit(1)
	}

	opts := visualization.DefaultRenderOptions()
	opts.ShowConfig = *showConfig
	opts.ShowConditions = *showConditions
	opts.Direction = strings.ToUpper(*direction)

	renderer := visualization.NewMermaidRenderer()
	diagram, err := renderer.Render(workflow, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to render workflow: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := os.WriteFile(*output, []byte(diagram), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to write to file '%s': %v\n", *output, err)
			os.Exit(1)
		}
		fmt.Printf("Diagram saved to %s\n", *output)
	} else {
		fmt.Println(diagram)
	}
}

func handleWorkflowList(args []string) {
	fs := flag.NewFlagSet("workflow list", flag.ExitOnError)
	endpoint := fs.String("endpoint", getEnv("MBFLOW_ENDPOINT", "http://localhost:8585"), "MBFlow server endpoint")
	apiKey := fs.String("api-key", getEnv("MBFLOW_API_KEY", ""), "API key for authentication")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := newAPIClient(*endpoint, *apiKey, *timeout)

	workflows, err := client.listWorkflows(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list workflows: %v\n", err)
		os.Exit(1)
	}

	if len(workflows) == 0 {
		fmt.Println("No workflows found")
		return
	}

	fmt.Printf("Found %d workflow(s):\n\n", len(workflows))
	for _, wf := range workflows {
		fmt.Printf("ID:          %s\n", wf.ID)
		fmt.Printf("Name:        %s\n", wf.Name)
		if wf.Description != "" {
			fmt.Printf("Description: %s\n", wf.Description)
		}
		fmt.Printf("Status:      %s\n", wf.Status)
		fmt.Printf("Nodes:       %d\n", len(wf.Nodes))
		fmt.Printf("Edges:       %d\n", len(wf.Edges))
		if len(wf.Tags) > 0 {
			fmt.Printf("Tags:        %s\n", strings.Join(wf.Tags, ", "))
		}
		fmt.Println("---")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
