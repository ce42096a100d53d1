package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes the Pipelines client as MCP tools over stdio.
type Server struct {
	client *Client
	mcp    *mcp.Server
}

// NewServer registers every pipeline tool on a fresh MCP server.
func NewServer(client *Client) *Server {
	s := &Server{
		client: client,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "bitbucket-pipelines",
			Version: "1.0.0",
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.run(ctx, &mcp.IOTransport{
		Reader: os.Stdin,
		Writer: os.Stdout,
	})
}

func (s *Server) run(ctx context.Context, transport mcp.Transport) error {
	return s.mcp.Run(ctx, transport)
}

// handler adapts a client call into an MCP tool handler. Failures become
// tool results marked IsError rather than protocol errors, so the model sees
// them and can react.
func handler[T any](fn func(ctx context.Context, opts T) (any, error)) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var opts T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &opts); err != nil {
				return errResult(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}

		result, err := fn(ctx, opts)
		if err != nil {
			return errResult(err), nil
		}

		text, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return errResult(fmt.Errorf("encode result: %w", err)), nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		}, nil
	}
}

func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
		IsError: true,
	}
}

func (s *Server) registerTools() {
	c := s.client

	s.addTool("list_pipelines",
		"List pipelines for a repository. Returns recent pipelines with their status, duration, and basic info.",
		s.schema(properties{
			"status": {
				"type":        "string",
				"description": "Filter by status: SUCCESSFUL, FAILED, ERROR, STOPPED, PENDING, or IN_PROGRESS",
				"enum":        []string{"SUCCESSFUL", "FAILED", "ERROR", "STOPPED", "PENDING", "IN_PROGRESS"},
			},
			"limit": {
				"type":        "integer",
				"description": "Maximum number of pipelines to return (default: 50, max: 100)",
				"default":     50,
			},
		}),
		handler(func(ctx context.Context, opts ListPipelinesOptions) (any, error) {
			return c.ListPipelines(ctx, opts)
		}))

	s.addTool("get_pipeline_details",
		"Get detailed information about a specific pipeline including all steps and their status.",
		s.schema(properties{
			"pipeline_uuid": {
				"type":        "string",
				"description": "Pipeline UUID (with or without curly braces)",
			},
		}, "pipeline_uuid"),
		handler(func(ctx context.Context, opts PipelineOptions) (any, error) {
			return c.GetPipelineDetails(ctx, opts)
		}))

	s.addTool("get_failed_pipelines",
		"Get all failed pipelines for a repository with details about what failed.",
		s.schema(properties{
			"limit": {
				"type":        "integer",
				"description": "Maximum number of pipelines to check (default: 100)",
				"default":     100,
			},
		}),
		handler(func(ctx context.Context, opts GetFailedPipelinesOptions) (any, error) {
			return c.GetFailedPipelines(ctx, opts)
		}))

	s.addTool("get_step_logs",
		"Get logs for a specific pipeline step.",
		s.schema(properties{
			"pipeline_uuid": {"type": "string", "description": "Pipeline UUID"},
			"step_uuid":     {"type": "string", "description": "Step UUID"},
		}, "pipeline_uuid", "step_uuid"),
		handler(func(ctx context.Context, opts StepOptions) (any, error) {
			return c.GetStepLogs(ctx, opts)
		}))

	s.addTool("analyze_step_failures",
		"Analyze which pipeline steps fail most frequently across recent pipeline runs.",
		s.schema(properties{
			"limit": {
				"type":        "integer",
				"description": "Number of recent pipelines to analyze (default: 100)",
				"default":     100,
			},
		}),
		handler(func(ctx context.Context, opts AnalyzeStepFailuresOptions) (any, error) {
			return c.AnalyzeStepFailures(ctx, opts)
		}))

	s.addTool("get_latest_failure_logs",
		"Get logs from the most recent failed pipeline, automatically identifying the failed step.",
		s.schema(nil),
		handler(func(ctx context.Context, opts RepoOptions) (any, error) {
			return c.GetLatestFailureLogs(ctx, opts)
		}))

	s.addTool("run_pipeline",
		"Trigger a new pipeline execution for a repository.",
		s.schema(properties{
			"ref_type": {
				"type":        "string",
				"description": "Reference type: branch, tag, bookmark, or named_branch",
				"enum":        []string{"branch", "tag", "bookmark", "named_branch"},
			},
			"ref_name": {
				"type":        "string",
				"description": "Name of the branch, tag, or bookmark",
			},
			"variables": {
				"type":        "array",
				"description": "Optional pipeline variables as array of {key, value, secured} objects",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"key":     map[string]any{"type": "string"},
						"value":   map[string]any{"type": "string"},
						"secured": map[string]any{"type": "boolean"},
					},
					"required": []string{"key", "value"},
				},
			},
		}, "ref_type", "ref_name"),
		handler(func(ctx context.Context, opts RunPipelineOptions) (any, error) {
			return c.RunPipeline(ctx, opts)
		}))

	s.addTool("stop_pipeline",
		"Stop a currently running pipeline.",
		s.schema(properties{
			"pipeline_uuid": {"type": "string", "description": "Pipeline UUID to stop"},
		}, "pipeline_uuid"),
		handler(func(ctx context.Context, opts PipelineOptions) (any, error) {
			return c.StopPipeline(ctx, opts)
		}))

	s.addTool("get_pipeline_steps",
		"Get all steps for a specific pipeline.",
		s.schema(properties{
			"pipeline_uuid": {"type": "string", "description": "Pipeline UUID"},
		}, "pipeline_uuid"),
		handler(func(ctx context.Context, opts PipelineOptions) (any, error) {
			return c.GetPipelineSteps(ctx, opts)
		}))

	s.addTool("get_pipeline_step",
		"Get detailed information about a specific pipeline step.",
		s.schema(properties{
			"pipeline_uuid": {"type": "string", "description": "Pipeline UUID"},
			"step_uuid":     {"type": "string", "description": "Step UUID"},
		}, "pipeline_uuid", "step_uuid"),
		handler(func(ctx context.Context, opts StepOptions) (any, error) {
			return c.GetPipelineStep(ctx, opts)
		}))
}

func (s *Server) addTool(name, description string, schema json.RawMessage, h mcp.ToolHandler) {
	if s.client.settings.RepoSlug != "" {
		description += " Default repo: " + s.client.settings.RepoSlug
	}
	s.mcp.AddTool(&mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, h)
}

type properties map[string]map[string]any

// schema builds a tool input schema. Every tool accepts workspace and
// repo_slug overrides; repo_slug joins the required list only when no default
// repository is configured.
func (s *Server) schema(props properties, required ...string) json.RawMessage {
	all := map[string]any{
		"workspace": map[string]any{
			"type":        "string",
			"description": fmt.Sprintf("Bitbucket workspace name (defaults to %s)", s.client.settings.Workspace),
		},
		"repo_slug": map[string]any{
			"type":        "string",
			"description": "Repository slug/name",
		},
	}
	for name, p := range props {
		all[name] = p
	}

	if s.client.settings.RepoSlug == "" {
		required = append([]string{"repo_slug"}, required...)
	}
	if required == nil {
		required = []string{}
	}

	raw, err := json.Marshal(map[string]any{
		"type":       "object",
		"properties": all,
		"required":   required,
	})
	if err != nil {
		panic(fmt.Sprintf("bitbucket: marshal tool schema: %v", err))
	}
	return raw
}
