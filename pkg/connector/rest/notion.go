// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/loopwork/tether/pkg/connector"
	"github.com/loopwork/tether/pkg/networking"
	"github.com/loopwork/tether/pkg/store"
)

const (
	notionAuthorizeURL = "https://api.notion.com/v1/oauth/authorize"
	notionTokenURL     = "https://api.notion.com/v1/oauth/token"
	notionAPIBase      = "https://api.notion.com"

	// notionVersion pins the API revision; Notion rejects unversioned calls.
	notionVersion = "2022-06-28"
)

// NewNotion builds the Notion connector. Notion rejects client credentials
// in the token request body (Basic auth only), does not support PKCE, and
// reports the granted workspace in the token response rather than through a
// discovery endpoint.
func NewNotion(clientID, clientSecret, redirectURI string, st store.Store, opts ...ProviderOption) (*Connector, error) {
	s := &providerSettings{
		apiBase:      notionAPIBase,
		authorizeURL: notionAuthorizeURL,
		tokenURL:     notionTokenURL,
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg := connector.OAuthConfig{
		ProviderID:   "notion",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthorizeURL: s.authorizeURL,
		TokenURL:     s.tokenURL,
		RedirectURI:  redirectURI,
		UsePKCE:      false,
		AuthMethod:   connector.AuthMethodBasic,
		AdditionalParams: map[string]string{
			"owner": "user",
		},
		TokenExtraFields: []string{"workspace_id", "workspace_name", "bot_id"},
	}
	meta := connector.ConnectorMetadata{
		ProviderID:  "notion",
		DisplayName: "Notion",
		Description: "Search the connected Notion workspace and create pages.",
		RateLimits:  &connector.RateLimit{RequestsPerSecond: 3, Burst: 6},
	}

	return New(cfg, meta, st, notionOperations(s.apiBase), s.baseOptions()...)
}

func notionHeaders() []networking.FetchOption {
	return []networking.FetchOption{
		networking.WithHeader("Notion-Version", notionVersion),
	}
}

func notionOperations(apiBase string) []Operation {
	return []Operation{
		{
			Tool: connector.ConnectorTool{
				ID:          "notion_search",
				Name:        "notion_search",
				Description: "Search pages and databases in the connected Notion workspace.",
				ParametersSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Text to search for",
						},
						"max_results": map[string]any{
							"type":        "integer",
							"description": "Maximum results to return (default 10)",
						},
					},
					"required": []any{"query"},
				},
				RequiresAuth: true,
			},
			Execute: notionSearch(apiBase),
		},
		{
			Tool: connector.ConnectorTool{
				ID:          "notion_create_page",
				Name:        "notion_create_page",
				Description: "Create a page with a paragraph of content under an existing Notion page.",
				ParametersSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"parent_page_id": map[string]any{
							"type":        "string",
							"description": "ID of the page the new page is created under",
						},
						"title":   map[string]any{"type": "string", "description": "Page title"},
						"content": map[string]any{"type": "string", "description": "Paragraph text for the page body"},
					},
					"required": []any{"parent_page_id", "title"},
				},
				RequiresAuth: true,
				RateLimit:    &connector.RateLimit{RequestsPerSecond: 1, Burst: 2},
			},
			Execute: notionCreatePage(apiBase),
		},
	}
}

func notionSearch(apiBase string) ExecuteFunc {
	return func(ctx context.Context, sess *Session, args map[string]any) (string, error) {
		query, err := stringArg(args, "query", true)
		if err != nil {
			return "", err
		}
		maxResults := intArg(args, "max_results", 10)

		payload := map[string]any{
			"query":     query,
			"page_size": maxResults,
		}
		raw, err := postJSON[json.RawMessage](ctx, sess, apiBase+"/v1/search", payload, notionHeaders()...)
		if err != nil {
			return "", err
		}

		results := gjson.GetBytes(raw, "results")
		if !results.Exists() || len(results.Array()) == 0 {
			return "no results matched the query", nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d result(s):\n", len(results.Array()))
		results.ForEach(func(_, item gjson.Result) bool {
			title := notionTitle(item)
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(&b, "- %s %q (id %s)\n", item.Get("object").String(), title, item.Get("id").String())
			return true
		})
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

// notionTitle digs the display title out of a search result. Databases
// carry it at the top level; pages bury it in whichever property has type
// "title".
func notionTitle(item gjson.Result) string {
	if t := item.Get("title.0.plain_text"); t.Exists() {
		return t.String()
	}
	var title string
	item.Get("properties").ForEach(func(_, prop gjson.Result) bool {
		if prop.Get("type").String() == "title" {
			title = prop.Get("title.0.plain_text").String()
			return false
		}
		return true
	})
	return title
}

func notionCreatePage(apiBase string) ExecuteFunc {
	return func(ctx context.Context, sess *Session, args map[string]any) (string, error) {
		parentID, err := stringArg(args, "parent_page_id", true)
		if err != nil {
			return "", err
		}
		title, err := stringArg(args, "title", true)
		if err != nil {
			return "", err
		}
		content, err := stringArg(args, "content", false)
		if err != nil {
			return "", err
		}

		payload := map[string]any{
			"parent": map[string]any{"page_id": parentID},
			"properties": map[string]any{
				"title": map[string]any{
					"title": []any{
						map[string]any{"text": map[string]any{"content": title}},
					},
				},
			},
		}
		if content != "" {
			payload["children"] = []any{
				map[string]any{
					"object": "block",
					"type":   "paragraph",
					"paragraph": map[string]any{
						"rich_text": []any{
							map[string]any{"type": "text", "text": map[string]any{"content": content}},
						},
					},
				},
			}
		}

		raw, err := postJSON[json.RawMessage](ctx, sess, apiBase+"/v1/pages", payload, notionHeaders()...)
		if err != nil {
			return "", err
		}
		id := gjson.GetBytes(raw, "id").String()
		pageURL := gjson.GetBytes(raw, "url").String()
		if pageURL != "" {
			return fmt.Sprintf("created page %s: %s", id, pageURL), nil
		}
		return fmt.Sprintf("created page %s", id), nil
	}
}
