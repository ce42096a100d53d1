package bitbucket

// Wire types: the subset of the Bitbucket 2.0 API responses the client reads.

type apiPipelinePage struct {
	Values []apiPipeline `json:"values"`
}

type apiStepPage struct {
	Values []apiStep `json:"values"`
}

type apiState struct {
	Name   string     `json:"name"`
	Result *apiResult `json:"result"`
}

func (s apiState) resultName() string {
	if s.Result == nil {
		return ""
	}
	return s.Result.Name
}

type apiResult struct {
	Name string `json:"name"`
}

type apiTrigger struct {
	Name string `json:"name"`
}

type apiCommit struct {
	Hash string `json:"hash"`
}

type apiTarget struct {
	RefType string    `json:"ref_type"`
	RefName string    `json:"ref_name"`
	Commit  apiCommit `json:"commit"`
}

type apiPipeline struct {
	UUID              string     `json:"uuid"`
	BuildNumber       int        `json:"build_number"`
	State             apiState   `json:"state"`
	CreatedOn         string     `json:"created_on"`
	CompletedOn       string     `json:"completed_on"`
	DurationInSeconds int        `json:"duration_in_seconds"`
	Trigger           apiTrigger `json:"trigger"`
	Target            apiTarget  `json:"target"`
}

type apiStep struct {
	UUID              string   `json:"uuid"`
	Name              string   `json:"name"`
	State             apiState `json:"state"`
	StartedOn         string   `json:"started_on"`
	CompletedOn       string   `json:"completed_on"`
	DurationInSeconds int      `json:"duration_in_seconds"`
	SetupCommands     []apiCmd `json:"setup_commands"`
	ScriptCommands    []apiCmd `json:"script_commands"`
}

type apiCmd struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// Result types: the shapes returned to tool callers, serialized as the tool
// result text.

type Target struct {
	RefType string `json:"ref_type"`
	RefName string `json:"ref_name"`
	Commit  string `json:"commit"`
}

type PipelineSummary struct {
	UUID            string `json:"uuid"`
	BuildNumber     int    `json:"build_number"`
	Status          string `json:"status"`
	Result          string `json:"result,omitempty"`
	CreatedOn       string `json:"created_on,omitempty"`
	CompletedOn     string `json:"completed_on,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
	Trigger         string `json:"trigger,omitempty"`
	Target          Target `json:"target"`
}

type PipelineList struct {
	Workspace  string            `json:"workspace"`
	Repository string            `json:"repository"`
	Total      int               `json:"total"`
	Pipelines  []PipelineSummary `json:"pipelines"`
}

type StepSummary struct {
	UUID            string `json:"uuid"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	Result          string `json:"result,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
	StartedOn       string `json:"started_on,omitempty"`
	CompletedOn     string `json:"completed_on,omitempty"`
}

type PipelineDetails struct {
	PipelineSummary
	Steps []StepSummary `json:"steps"`
}

type FailedStep struct {
	Name   string `json:"name"`
	UUID   string `json:"uuid"`
	Result string `json:"result"`
}

type FailedPipeline struct {
	UUID        string       `json:"uuid"`
	BuildNumber int          `json:"build_number"`
	Status      string       `json:"status"`
	Result      string       `json:"result"`
	CreatedOn   string       `json:"created_on"`
	FailedSteps []FailedStep `json:"failed_steps"`
}

type FailedPipelineList struct {
	Workspace       string           `json:"workspace"`
	Repository      string           `json:"repository"`
	TotalFailed     int              `json:"total_failed"`
	FailedPipelines []FailedPipeline `json:"failed_pipelines"`
}

type StepLogs struct {
	Workspace    string `json:"workspace"`
	Repository   string `json:"repository"`
	PipelineUUID string `json:"pipeline_uuid"`
	StepUUID     string `json:"step_uuid"`
	Logs         string `json:"logs"`
}

type StepFailureStat struct {
	StepName     string `json:"step_name"`
	FailureCount int    `json:"failure_count"`
}

type FailureAnalysis struct {
	Workspace         string            `json:"workspace"`
	Repository        string            `json:"repository"`
	AnalyzedPipelines int               `json:"analyzed_pipelines"`
	FailedPipelines   int               `json:"failed_pipelines"`
	FailureRate       string            `json:"failure_rate"`
	StepFailureStats  []StepFailureStat `json:"step_failure_stats"`
}

type LatestFailureLogs struct {
	Workspace  string           `json:"workspace"`
	Repository string           `json:"repository"`
	Message    string           `json:"message,omitempty"`
	Pipeline   *PipelineSummary `json:"pipeline,omitempty"`
	FailedStep *StepSummary     `json:"failed_step,omitempty"`
	Logs       string           `json:"logs,omitempty"`
}

type RunPipelineResult struct {
	Workspace  string          `json:"workspace"`
	Repository string          `json:"repository"`
	Pipeline   PipelineSummary `json:"pipeline"`
	Message    string          `json:"message"`
}

type StopPipelineResult struct {
	Workspace    string `json:"workspace"`
	Repository   string `json:"repository"`
	PipelineUUID string `json:"pipeline_uuid"`
	Message      string `json:"message"`
}

type StepList struct {
	Workspace    string        `json:"workspace"`
	Repository   string        `json:"repository"`
	PipelineUUID string        `json:"pipeline_uuid"`
	TotalSteps   int           `json:"total_steps"`
	Steps        []StepSummary `json:"steps"`
}

type StepDetails struct {
	Workspace    string     `json:"workspace"`
	Repository   string     `json:"repository"`
	PipelineUUID string     `json:"pipeline_uuid"`
	Step         StepDetail `json:"step"`
}

type StepDetail struct {
	StepSummary
	SetupCommands  []Command `json:"setup_commands,omitempty"`
	ScriptCommands []Command `json:"script_commands,omitempty"`
}

type Command struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// PipelineVariable is passed when triggering a pipeline run.
type PipelineVariable struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Secured bool   `json:"secured,omitempty"`
}

func summarizePipeline(p apiPipeline) PipelineSummary {
	commit := p.Target.Commit.Hash
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return PipelineSummary{
		UUID:            p.UUID,
		BuildNumber:     p.BuildNumber,
		Status:          p.State.Name,
		Result:          p.State.resultName(),
		CreatedOn:       p.CreatedOn,
		CompletedOn:     p.CompletedOn,
		DurationSeconds: p.DurationInSeconds,
		Trigger:         p.Trigger.Name,
		Target: Target{
			RefType: p.Target.RefType,
			RefName: p.Target.RefName,
			Commit:  commit,
		},
	}
}

func summarizeStep(s apiStep) StepSummary {
	return StepSummary{
		UUID:            s.UUID,
		Name:            s.Name,
		Status:          s.State.Name,
		Result:          s.State.resultName(),
		DurationSeconds: s.DurationInSeconds,
		StartedOn:       s.StartedOn,
		CompletedOn:     s.CompletedOn,
	}
}

// isFailure reports whether a pipeline or step result counts as failed.
func isFailure(result string) bool {
	return result == "FAILED" || result == "ERROR"
}
