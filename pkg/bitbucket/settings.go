package bitbucket

import (
	"errors"
	"os"
)

// DefaultAPIURL is the Bitbucket Cloud 2.0 REST API base.
const DefaultAPIURL = "https://api.bitbucket.org/2.0"

// Settings configures the Pipelines client. Authentication is either a
// bearer token or username/password basic auth; RepoSlug is an optional
// default applied when a tool call omits one.
type Settings struct {
	APIURL    string
	Workspace string
	Token     string
	Username  string
	Password  string
	RepoSlug  string
}

// SettingsFromEnv reads BITBUCKET_* environment variables and validates the
// result.
func SettingsFromEnv() (Settings, error) {
	s := Settings{
		APIURL:    os.Getenv("BITBUCKET_API_URL"),
		Workspace: os.Getenv("BITBUCKET_WORKSPACE"),
		Token:     os.Getenv("BITBUCKET_TOKEN"),
		Username:  os.Getenv("BITBUCKET_USERNAME"),
		Password:  os.Getenv("BITBUCKET_PASSWORD"),
		RepoSlug:  os.Getenv("BITBUCKET_REPO_SLUG"),
	}
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}
	return s, s.Validate()
}

// Validate checks that a workspace and a usable auth method are configured.
func (s Settings) Validate() error {
	if s.Workspace == "" {
		return errors.New("bitbucket: BITBUCKET_WORKSPACE is required")
	}

	hasToken := s.Token != ""
	hasBasic := s.Username != "" && s.Password != ""
	if !hasToken && !hasBasic {
		return errors.New("bitbucket: authentication required: provide either BITBUCKET_TOKEN or both BITBUCKET_USERNAME and BITBUCKET_PASSWORD")
	}

	return nil
}
