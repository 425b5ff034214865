package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// jiraServerLabel groups the Jira tools under one consent-gated server
const jiraServerLabel = "jira"

// jiraClient is a minimal Jira Cloud REST search client
type jiraClient struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
}

// NewJiraTools returns the approval-gated Jira tools backed by the Jira
// Cloud search API. Both tools share the "jira" server label, so one OAuth
// grant covers them.
func NewJiraTools(baseURL, email, apiToken string) []Tool {
	client := &jiraClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	return []Tool{
		{
			Name:        "jira_search",
			Description: "Search Jira issues with a JQL query and return matching issue summaries.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"jql": map[string]any{
						"type":        "string",
						"description": "JQL query, e.g. assignee = currentUser() AND statusCategory != Done",
					},
					"max_results": map[string]any{
						"type":    "integer",
						"default": 10,
					},
				},
				"required": []string{"jql"},
			},
			ServerLabel:      jiraServerLabel,
			RequiresApproval: true,
			RequiresConsent:  true,
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				jql, _ := args["jql"].(string)
				if jql == "" {
					return "", fmt.Errorf("jql is required")
				}
				return client.search(ctx, jql, intArg(args, "max_results", 10))
			},
		},
		{
			Name:        "jira_list_issues",
			Description: "List recent issues in a Jira project.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_key": map[string]any{
						"type":        "string",
						"description": "Jira project key, e.g. SCRUM",
					},
					"max_results": map[string]any{
						"type":    "integer",
						"default": 10,
					},
				},
				"required": []string{"project_key"},
			},
			ServerLabel:      jiraServerLabel,
			RequiresApproval: true,
			RequiresConsent:  true,
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				project, _ := args["project_key"].(string)
				if project == "" {
					return "", fmt.Errorf("project_key is required")
				}
				jql := fmt.Sprintf("project = %q ORDER BY created DESC", project)
				return client.search(ctx, jql, intArg(args, "max_results", 10))
			},
		},
	}
}

// search runs a JQL query and formats the hits one issue per line
func (c *jiraClient) search(ctx context.Context, jql string, maxResults int) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("jira is not configured")
	}

	query := url.Values{}
	query.Set("jql", jql)
	query.Set("maxResults", strconv.Itoa(maxResults))
	query.Set("fields", "summary,status")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/rest/api/3/search/jql?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("jira search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("jira search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var body struct {
		Total  int `json:"total"`
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
				Status  struct {
					Name string `json:"name"`
				} `json:"status"`
			} `json:"fields"`
		} `json:"issues"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("jira search returned malformed body: %w", err)
	}

	if len(body.Issues) == 0 {
		return "No issues matched the query.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d issue(s) found:\n", len(body.Issues))
	for _, issue := range body.Issues {
		fmt.Fprintf(&b, "- %s: %s [%s]\n", issue.Key, issue.Fields.Summary, issue.Fields.Status.Name)
	}
	return b.String(), nil
}

// intArg reads an integer tool argument, tolerating the float64 JSON decode
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
