// Package bitbucket wraps the Bitbucket Pipelines REST API as a set of
// schema-described tools and serves them over MCP.
package bitbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrRepoSlugRequired is returned when no repository is given and no default
// is configured.
var ErrRepoSlugRequired = errors.New("bitbucket: repo_slug is required: provide it as a parameter or set BITBUCKET_REPO_SLUG")

// Client calls the Bitbucket Pipelines REST API.
type Client struct {
	settings Settings
	http     *http.Client
}

// NewClient creates a Client from validated settings.
func NewClient(s Settings) (*Client, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}
	return &Client{
		settings: s,
		http:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// RepoOptions selects the target repository; empty fields fall back to the
// configured defaults.
type RepoOptions struct {
	Workspace string `json:"workspace,omitempty"`
	RepoSlug  string `json:"repo_slug,omitempty"`
}

func (c *Client) workspace(o RepoOptions) string {
	if o.Workspace != "" {
		return o.Workspace
	}
	return c.settings.Workspace
}

func (c *Client) repoSlug(o RepoOptions) (string, error) {
	if o.RepoSlug != "" {
		return o.RepoSlug, nil
	}
	if c.settings.RepoSlug != "" {
		return c.settings.RepoSlug, nil
	}
	return "", ErrRepoSlugRequired
}

// normalizeUUID adds the curly braces the API requires if they are missing.
func normalizeUUID(uuid string) string {
	uuid = strings.TrimSpace(uuid)
	if !strings.HasPrefix(uuid, "{") {
		uuid = "{" + uuid
	}
	if !strings.HasSuffix(uuid, "}") {
		uuid = uuid + "}"
	}
	return uuid
}

// ListPipelinesOptions filter the pipeline listing.
type ListPipelinesOptions struct {
	RepoOptions
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ListPipelines returns recent pipelines, newest first. Status filtering is
// applied against both the pipeline state and its result, matching how
// callers read "FAILED" vs "IN_PROGRESS".
func (c *Client) ListPipelines(ctx context.Context, opts ListPipelinesOptions) (*PipelineList, error) {
	ws := c.workspace(opts.RepoOptions)
	rs, err := c.repoSlug(opts.RepoOptions)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	query := url.Values{}
	query.Set("pagelen", strconv.Itoa(limit))
	query.Set("sort", "-created_on")

	var page apiPipelinePage
	path := fmt.Sprintf("/repositories/%s/%s/pipelines/", ws, rs)
	if err := c.getJSON(ctx, path, query, &page); err != nil {
		return nil, err
	}

	pipelines := make([]PipelineSummary, 0, len(page.Values))
	for _, p := range page.Values {
		summary := summarizePipeline(p)
		if opts.Status != "" && summary.Status != opts.Status && summary.Result != opts.Status {
			continue
		}
		if len(pipelines) == limit {
			break
		}
		pipelines = append(pipelines, summary)
	}

	return &PipelineList{
		Workspace:  ws,
		Repository: rs,
		Total:      len(pipelines),
		Pipelines:  pipelines,
	}, nil
}

// PipelineOptions address one pipeline.
type PipelineOptions struct {
	RepoOptions
	PipelineUUID string `json:"pipeline_uuid"`
}

// GetPipelineDetails returns one pipeline with all its steps.
func (c *Client) GetPipelineDetails(ctx context.Context, opts PipelineOptions) (*PipelineDetails, error) {
	ws := c.workspace(opts.RepoOptions)
	rs, err := c.repoSlug(opts.RepoOptions)
	if err != nil {
		return nil, err
	}
	uuid := normalizeUUID(opts.PipelineUUID)

	var pipeline apiPipeline
	path := fmt.Sprintf("/repositories/%s/%s/pipelines/%s", ws, rs, uuid)
	if err := c.getJSON(ctx, path, nil, &pipeline); err != nil {
		return nil, err
	}

	var stepsPage apiStepPage
	stepsPath := fmt.Sprintf("/repositories/%s/%s/pipelines/%s/steps/", ws, rs, uuid)
	if err := c.getJSON(ctx, stepsPath, nil, &stepsPage); err != nil {
		return nil, err
	}

	steps := make([]StepSummary, 0, len(stepsPage.Values))
	for _, s := range stepsPage.Values {
		steps = append(steps, summarizeStep(s))
	}

	return &PipelineDetails{
		PipelineSummary: summarizePipeline(pipeline),
		Steps:           steps,
	}, nil
}

// GetFailedPipelinesOptions bound the failure scan.
type GetFailedPipelinesOptions struct {
	RepoOptions
	Limit int `json:"limit,omitempty"`
}

// GetFailedPipelines scans recent pipelines and returns the failed ones with
// their failed steps.
func (c *Client) GetFailedPipelines(ctx context.Context, opts GetFailedPipelinesOptions) (*FailedPipelineList, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	all, err := c.ListPipelines(ctx, ListPipelinesOptions{RepoOptions: opts.RepoOptions, Limit: limit})
	if err != nil {
		return nil, err
	}

	failed := make([]FailedPipeline, 0)
	for _, p := range all.Pipelines {
		if !isFailure(p.Result) {
			continue
		}

		details, err := c.GetPipelineDetails(ctx, PipelineOptions{
			RepoOptions:  RepoOptions{Workspace: all.Workspace, RepoSlug: all.Repository},
			PipelineUUID: p.UUID,
		})
		if err != nil {
			return nil, err
		}

		var failedSteps []FailedStep
		for _, s := range details.Steps {
			if isFailure(s.Result) {
				failedSteps = append(failedSteps, FailedStep{Name: s.Name, UUID: s.UUID, Result: s.Result})
			}
		}

		failed = append(failed, FailedPipeline{
			UUID:        p.UUID,
			BuildNumber: p.BuildNumber,
			Status:      p.Status,
			Result:      p.Result,
			CreatedOn:   p.CreatedOn,
			FailedSteps: failedSteps,
		})
	}

	return &FailedPipelineList{
		Workspace:       all.Workspace,
		Repository:      all.Repository,
		TotalFailed:     len(failed),
		FailedPipelines: failed,
	}, nil
}

// StepOptions address one step of one pipeline.
type StepOptions struct {
	RepoOptions
	PipelineUUID string `json:"pipeline_uuid"`
	StepUUID     string `json:"step_uuid"`
}

// GetStepLogs fetches the raw log text for a step. The logs endpoint
// redirects to blob storage and returns plain text, so the request accepts
// anything and follows redirects.
func (c *Client) GetStepLogs(ctx context.Context, opts StepOptions) (*StepLogs, error) {
	ws := c.workspace(opts.RepoOptions)
	rs, err := c.repoSlug(opts.RepoOptions)
	if err != nil {
		return nil, err
	}
	pipelineUUID := normalizeUUID(opts.PipelineUUID)
	stepUUID := normalizeUUID(opts.StepUUID)

	path := fmt.Sprintf("/repositories/%s/%s/pipelines/%s/steps/%s/log", ws, rs, pipelineUUID, stepUUID)
	logs, err := c.getText(ctx, path)
	if err != nil {
		return nil, err
	}

	return &StepLogs{
		Workspace:    ws,
		Repository:   rs,
		PipelineUUID: pipelineUUID,
		StepUUID:     stepUUID,
		Logs:         logs,
	}, nil
}

// AnalyzeStepFailuresOptions bound the analysis window.
type AnalyzeStepFailuresOptions struct {
	RepoOptions
	Limit int `json:"limit,omitempty"`
}

// AnalyzeStepFailures counts which steps fail most often across recent runs.
func (c *Client) AnalyzeStepFailures(ctx context.Context, opts AnalyzeStepFailuresOptions) (*FailureAnalysis, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	all, err := c.ListPipelines(ctx, ListPipelinesOptions{RepoOptions: opts.RepoOptions, Limit: limit})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	failedCount := 0
	for _, p := range all.Pipelines {
		if !isFailure(p.Result) {
			continue
		}
		failedCount++

		details, err := c.GetPipelineDetails(ctx, PipelineOptions{
			RepoOptions:  RepoOptions{Workspace: all.Workspace, RepoSlug: all.Repository},
			PipelineUUID: p.UUID,
		})
		if err != nil {
			return nil, err
		}

		for _, s := range details.Steps {
			if isFailure(s.Result) {
				counts[s.Name]++
			}
		}
	}

	stats := make([]StepFailureStat, 0, len(counts))
	for name, count := range counts {
		stats = append(stats, StepFailureStat{StepName: name, FailureCount: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].FailureCount != stats[j].FailureCount {
			return stats[i].FailureCount > stats[j].FailureCount
		}
		return stats[i].StepName < stats[j].StepName
	})

	rate := "0%"
	if len(all.Pipelines) > 0 {
		rate = fmt.Sprintf("%.1f%%", float64(failedCount)/float64(len(all.Pipelines))*100)
	}

	return &FailureAnalysis{
		Workspace:         all.Workspace,
		Repository:        all.Repository,
		AnalyzedPipelines: len(all.Pipelines),
		FailedPipelines:   failedCount,
		FailureRate:       rate,
		StepFailureStats:  stats,
	}, nil
}

// GetLatestFailureLogs finds the most recent failed pipeline, identifies its
// failed step, and returns that step's logs.
func (c *Client) GetLatestFailureLogs(ctx context.Context, opts RepoOptions) (*LatestFailureLogs, error) {
	all, err := c.ListPipelines(ctx, ListPipelinesOptions{RepoOptions: opts, Limit: 50})
	if err != nil {
		return nil, err
	}

	var failed *PipelineSummary
	for i := range all.Pipelines {
		if isFailure(all.Pipelines[i].Result) {
			failed = &all.Pipelines[i]
			break
		}
	}
	if failed == nil {
		return &LatestFailureLogs{
			Workspace:  all.Workspace,
			Repository: all.Repository,
			Message:    "No failed pipelines found in recent history",
		}, nil
	}

	details, err := c.GetPipelineDetails(ctx, PipelineOptions{
		RepoOptions:  RepoOptions{Workspace: all.Workspace, RepoSlug: all.Repository},
		PipelineUUID: failed.UUID,
	})
	if err != nil {
		return nil, err
	}

	var failedStep *StepSummary
	for i := range details.Steps {
		if isFailure(details.Steps[i].Result) {
			failedStep = &details.Steps[i]
			break
		}
	}
	if failedStep == nil {
		return &LatestFailureLogs{
			Workspace:  all.Workspace,
			Repository: all.Repository,
			Pipeline:   failed,
			Message:    "Failed pipeline found but no failed step identified",
		}, nil
	}

	logs, err := c.GetStepLogs(ctx, StepOptions{
		RepoOptions:  RepoOptions{Workspace: all.Workspace, RepoSlug: all.Repository},
		PipelineUUID: failed.UUID,
		StepUUID:     failedStep.UUID,
	})
	if err != nil {
		return nil, err
	}

	return &LatestFailureLogs{
		Workspace:  all.Workspace,
		Repository: all.Repository,
		Pipeline:   failed,
		FailedStep: failedStep,
		Logs:       logs.Logs,
	}, nil
}

// RunPipelineOptions describe the ref to build and optional variables.
type RunPipelineOptions struct {
	RepoOptions
	RefType   string             `json:"ref_type"`
	RefName   string             `json:"ref_name"`
	Variables []PipelineVariable `json:"variables,omitempty"`
}

// RunPipeline triggers a new pipeline for the given ref.
func (c *Client) RunPipeline(ctx context.Context, opts RunPipelineOptions) (*RunPipelineResult, error) {
	ws := c.workspace(opts.RepoOptions)
	rs, err := c.repoSlug(opts.RepoOptions)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"target": map[string]any{
			"ref_type": opts.RefType,
			"type":     "pipeline_ref_target",
			"ref_name": opts.RefName,
		},
	}
	if len(opts.Variables) > 0 {
		body["variables"] = opts.Variables
	}

	var pipeline apiPipeline
	path := fmt.Sprintf("/repositories/%s/%s/pipelines/", ws, rs)
	if err := c.postJSON(ctx, path, body, &pipeline); err != nil {
		return nil, err
	}

	return &RunPipelineResult{
		Workspace:  ws,
		Repository: rs,
		Pipeline:   summarizePipeline(pipeline),
		Message:    fmt.Sprintf("Pipeline triggered successfully for %s %s", opts.RefType, opts.RefName),
	}, nil
}

// StopPipeline sends a stop signal to a running pipeline.
func (c *Client) StopPipeline(ctx context.Context, opts PipelineOptions) (*StopPipelineResult, error) {
	ws := c.workspace(opts.RepoOptions)
	rs, err := c.repoSlug(opts.RepoOptions)
	if err != nil {
		return nil, err
	}
	uuid := normalizeUUID(opts.PipelineUUID)

	path := fmt.Sprintf("/repositories/%s/%s/pipelines/%s/stopPipeline", ws, rs, uuid)
	if err := c.postJSON(ctx, path, map[string]any{}, nil); err != nil {
		return nil, err
	}

	return &StopPipelineResult{
		Workspace:    ws,
		Repository:   rs,
		PipelineUUID: uuid,
		Message:      "Pipeline stop signal sent successfully",
	}, nil
}

// GetPipelineSteps lists all steps of one pipeline.
func (c *Client) GetPipelineSteps(ctx context.Context, opts PipelineOptions) (*StepList, error) {
	ws := c.workspace(opts.RepoOptions)
	rs, err := c.repoSlug(opts.RepoOptions)
	if err != nil {
		return nil, err
	}
	uuid := normalizeUUID(opts.PipelineUUID)

	var page apiStepPage
	path := fmt.Sprintf("/repositories/%s/%s/pipelines/%s/steps/", ws, rs, uuid)
	if err := c.getJSON(ctx, path, nil, &page); err != nil {
		return nil, err
	}

	steps := make([]StepSummary, 0, len(page.Values))
	for _, s := range page.Values {
		steps = append(steps, summarizeStep(s))
	}

	return &StepList{
		Workspace:    ws,
		Repository:   rs,
		PipelineUUID: uuid,
		TotalSteps:   len(steps),
		Steps:        steps,
	}, nil
}

// GetPipelineStep returns one step including its configured commands.
func (c *Client) GetPipelineStep(ctx context.Context, opts StepOptions) (*StepDetails, error) {
	ws := c.workspace(opts.RepoOptions)
	rs, err := c.repoSlug(opts.RepoOptions)
	if err != nil {
		return nil, err
	}
	pipelineUUID := normalizeUUID(opts.PipelineUUID)
	stepUUID := normalizeUUID(opts.StepUUID)

	var step apiStep
	path := fmt.Sprintf("/repositories/%s/%s/pipelines/%s/steps/%s", ws, rs, pipelineUUID, stepUUID)
	if err := c.getJSON(ctx, path, nil, &step); err != nil {
		return nil, err
	}

	detail := StepDetail{StepSummary: summarizeStep(step)}
	for _, cmd := range step.SetupCommands {
		detail.SetupCommands = append(detail.SetupCommands, Command(cmd))
	}
	for _, cmd := range step.ScriptCommands {
		detail.ScriptCommands = append(detail.ScriptCommands, Command(cmd))
	}

	return &StepDetails{
		Workspace:    ws,
		Repository:   rs,
		PipelineUUID: pipelineUUID,
		Step:         detail,
	}, nil
}

// newRequest builds a request with auth applied: bearer token when
// configured, basic auth otherwise.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.settings.APIURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}

	if c.settings.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.settings.Token)
	} else {
		req.SetBasicAuth(c.settings.Username, c.settings.Password)
	}

	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return fmt.Errorf("bitbucket: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, dest)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bitbucket: marshal payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bitbucket: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, dest)
}

// getText fetches a plain-text body, accepting any content type.
func (c *Client) getText(ctx context.Context, path string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", fmt.Errorf("bitbucket: build request: %w", err)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("bitbucket: request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("bitbucket: %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("bitbucket: read %s: %w", path, err)
	}
	return string(body), nil
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bitbucket: request %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bitbucket: %s: unexpected status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("bitbucket: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
