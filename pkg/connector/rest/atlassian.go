// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/loopwork/tether/pkg/connector"
	terrors "github.com/loopwork/tether/pkg/errors"
	"github.com/loopwork/tether/pkg/logger"
	"github.com/loopwork/tether/pkg/store"
)

const (
	atlassianAuthorizeURL = "https://auth.atlassian.com/authorize"
	atlassianTokenURL     = "https://auth.atlassian.com/oauth/token"
	atlassianAPIBase      = "https://api.atlassian.com"

	// dataCloudID caches the discovered site id in token additional-data.
	dataCloudID = "cloud_id"
)

var atlassianScopes = []string{
	"read:jira-work",
	"read:confluence-content.summary",
	"search:confluence",
	"offline_access",
}

// NewAtlassian builds the Atlassian connector (Jira, Confluence). Atlassian
// rotates refresh tokens on every refresh, requires an audience parameter
// on the authorize URL, and scopes API calls by a cloud id discovered from
// accessible-resources after auth.
func NewAtlassian(clientID, clientSecret, redirectURI string, st store.Store, opts ...ProviderOption) (*Connector, error) {
	s := &providerSettings{
		apiBase:      atlassianAPIBase,
		authorizeURL: atlassianAuthorizeURL,
		tokenURL:     atlassianTokenURL,
		scopes:       atlassianScopes,
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg := connector.OAuthConfig{
		ProviderID:   "atlassian",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthorizeURL: s.authorizeURL,
		TokenURL:     s.tokenURL,
		RedirectURI:  redirectURI,
		Scopes:       s.scopes,
		UsePKCE:      true,
		AdditionalParams: map[string]string{
			"audience": "api.atlassian.com",
			"prompt":   "consent",
		},
		RotatingRefresh: true,
	}
	meta := connector.ConnectorMetadata{
		ProviderID:  "atlassian",
		DisplayName: "Atlassian",
		Description: "Search Jira issues and Confluence content in the connected site.",
		RateLimits:  &connector.RateLimit{RequestsPerSecond: 5, Burst: 10},
	}

	return New(cfg, meta, st, atlassianOperations(s.apiBase), s.baseOptions()...)
}

func atlassianOperations(apiBase string) []Operation {
	return []Operation{
		{
			Tool: connector.ConnectorTool{
				ID:          "jira_search",
				Name:        "jira_search",
				Description: "Search Jira issues with a JQL query.",
				ParametersSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"jql": map[string]any{
							"type":        "string",
							"description": "JQL query, e.g. project = OPS AND status = \"In Progress\"",
						},
						"max_results": map[string]any{
							"type":        "integer",
							"description": "Maximum issues to return (default 10)",
						},
					},
					"required": []any{"jql"},
				},
				RequiresAuth: true,
			},
			Execute: jiraSearch(apiBase),
		},
		{
			Tool: connector.ConnectorTool{
				ID:          "confluence_search",
				Name:        "confluence_search",
				Description: "Search Confluence pages and blog posts with a CQL query.",
				ParametersSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"cql": map[string]any{
							"type":        "string",
							"description": "CQL query, e.g. text ~ \"incident runbook\"",
						},
						"max_results": map[string]any{
							"type":        "integer",
							"description": "Maximum results to return (default 10)",
						},
					},
					"required": []any{"cql"},
				},
				RequiresAuth: true,
			},
			Execute: confluenceSearch(apiBase),
		},
	}
}

type atlassianResource struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// cloudID resolves the tenant id Atlassian APIs are scoped by. Discovered
// once via accessible-resources and cached on the token record; a cache
// write failure only costs a rediscovery on the next call.
func cloudID(ctx context.Context, sess *Session, apiBase string) (string, error) {
	if id, ok := sess.Token.AdditionalData[dataCloudID].(string); ok && id != "" {
		return id, nil
	}

	resources, err := getJSON[[]atlassianResource](ctx, sess, apiBase+"/oauth/token/accessible-resources")
	if err != nil {
		return "", err
	}
	if len(resources) == 0 {
		return "", terrors.NewUpstreamError("no accessible Atlassian sites for this account", nil)
	}

	site := resources[0]
	if err := sess.StashTokenData(ctx, map[string]any{
		dataCloudID: site.ID,
		"site_url":  site.URL,
		"site_name": site.Name,
	}); err != nil {
		logger.Warnw("failed to cache Atlassian cloud id",
			"user_id", sess.UserID, "error", err)
	}
	return site.ID, nil
}

type jiraSearchResult struct {
	Total  int `json:"total"`
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
			Assignee struct {
				DisplayName string `json:"displayName"`
			} `json:"assignee"`
		} `json:"fields"`
	} `json:"issues"`
}

func jiraSearch(apiBase string) ExecuteFunc {
	return func(ctx context.Context, sess *Session, args map[string]any) (string, error) {
		jql, err := stringArg(args, "jql", true)
		if err != nil {
			return "", err
		}
		maxResults := intArg(args, "max_results", 10)

		id, err := cloudID(ctx, sess, apiBase)
		if err != nil {
			return "", err
		}

		q := url.Values{}
		q.Set("jql", jql)
		q.Set("maxResults", fmt.Sprintf("%d", maxResults))
		q.Set("fields", "summary,status,assignee")

		searchURL := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/search?%s", apiBase, id, q.Encode())
		result, err := getJSON[jiraSearchResult](ctx, sess, searchURL)
		if err != nil {
			return "", err
		}
		if len(result.Issues) == 0 {
			return "no issues matched the query", nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d issue(s) matched (showing %d):\n", result.Total, len(result.Issues))
		for _, issue := range result.Issues {
			line := fmt.Sprintf("- %s [%s] %s", issue.Key, issue.Fields.Status.Name, issue.Fields.Summary)
			if issue.Fields.Assignee.DisplayName != "" {
				line += " (assignee: " + issue.Fields.Assignee.DisplayName + ")"
			}
			b.WriteString(line + "\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

func confluenceSearch(apiBase string) ExecuteFunc {
	return func(ctx context.Context, sess *Session, args map[string]any) (string, error) {
		cql, err := stringArg(args, "cql", true)
		if err != nil {
			return "", err
		}
		maxResults := intArg(args, "max_results", 10)

		id, err := cloudID(ctx, sess, apiBase)
		if err != nil {
			return "", err
		}

		q := url.Values{}
		q.Set("cql", cql)
		q.Set("limit", fmt.Sprintf("%d", maxResults))

		searchURL := fmt.Sprintf("%s/ex/confluence/%s/wiki/rest/api/search?%s", apiBase, id, q.Encode())
		raw, err := getJSON[json.RawMessage](ctx, sess, searchURL)
		if err != nil {
			return "", err
		}

		results := gjson.GetBytes(raw, "results")
		if len(results.Array()) == 0 {
			return "no content matched the query", nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d result(s):\n", len(results.Array()))
		results.ForEach(func(_, item gjson.Result) bool {
			title := item.Get("content.title").String()
			if title == "" {
				title = item.Get("title").String()
			}
			fmt.Fprintf(&b, "- %s %q (id %s)\n",
				item.Get("content.type").String(), title, item.Get("content.id").String())
			return true
		})
		return strings.TrimRight(b.String(), "\n"), nil
	}
}
