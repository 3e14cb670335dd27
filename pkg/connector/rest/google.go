// SPDX-FileCopyrightText: Copyright 2025 Loopwork, Inc.
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/loopwork/tether/pkg/connector"
	"github.com/loopwork/tether/pkg/store"
)

const (
	googleAuthorizeURL = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL     = "https://oauth2.googleapis.com/token"
	googleRevokeURL    = "https://oauth2.googleapis.com/revoke"
	googleUserInfoURL  = "https://openidconnect.googleapis.com/v1/userinfo"
	googleAPIBase      = "https://www.googleapis.com"
)

var googleScopes = []string{
	"openid",
	"email",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/calendar.readonly",
}

// NewGoogle builds the Google connector (Gmail, Drive, Calendar). Google
// only issues a refresh token when the authorize URL carries
// access_type=offline, and drops it on silent re-auth unless consent is
// forced.
func NewGoogle(clientID, clientSecret, redirectURI string, st store.Store, opts ...ProviderOption) (*Connector, error) {
	s := &providerSettings{
		apiBase:      googleAPIBase,
		authorizeURL: googleAuthorizeURL,
		tokenURL:     googleTokenURL,
		revokeURL:    googleRevokeURL,
		userInfoURL:  googleUserInfoURL,
		scopes:       googleScopes,
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg := connector.OAuthConfig{
		ProviderID:   "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthorizeURL: s.authorizeURL,
		TokenURL:     s.tokenURL,
		RevokeURL:    s.revokeURL,
		UserInfoURL:  s.userInfoURL,
		RedirectURI:  redirectURI,
		Scopes:       s.scopes,
		UsePKCE:      true,
		AdditionalParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	}
	meta := connector.ConnectorMetadata{
		ProviderID:  "google",
		DisplayName: "Google Workspace",
		Description: "Search and send Gmail, find Drive files, and read upcoming Calendar events.",
		RateLimits:  &connector.RateLimit{RequestsPerSecond: 10, Burst: 20},
	}

	return New(cfg, meta, st, googleOperations(s.apiBase), s.baseOptions()...)
}

func googleOperations(apiBase string) []Operation {
	return []Operation{
		{
			Tool: connector.ConnectorTool{
				ID:          "gmail_search",
				Name:        "gmail_search",
				Description: "Search Gmail messages with a Gmail query string and return sender, subject and snippet for each hit.",
				ParametersSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Gmail search query, e.g. from:alice is:unread",
						},
						"max_results": map[string]any{
							"type":        "integer",
							"description": "Maximum messages to return (default 10)",
						},
					},
					"required": []any{"query"},
				},
				RequiresAuth: true,
			},
			Execute: gmailSearch(apiBase),
		},
		{
			Tool: connector.ConnectorTool{
				ID:          "gmail_send",
				Name:        "gmail_send",
				Description: "Send a plain-text email from the user's Gmail account.",
				ParametersSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"to":      map[string]any{"type": "string", "description": "Recipient address"},
						"subject": map[string]any{"type": "string", "description": "Message subject"},
						"body":    map[string]any{"type": "string", "description": "Plain-text message body"},
					},
					"required": []any{"to", "subject", "body"},
				},
				RequiresAuth: true,
				RateLimit:    &connector.RateLimit{RequestsPerSecond: 1, Burst: 2},
			},
			Execute: gmailSend(apiBase),
		},
		{
			Tool: connector.ConnectorTool{
				ID:          "drive_search",
				Name:        "drive_search",
				Description: "Find files in the user's Google Drive by name.",
				ParametersSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Text the file name must contain",
						},
						"max_results": map[string]any{
							"type":        "integer",
							"description": "Maximum files to return (default 10)",
						},
					},
					"required": []any{"query"},
				},
				RequiresAuth: true,
			},
			Execute: driveSearch(apiBase),
		},
		{
			Tool: connector.ConnectorTool{
				ID:          "calendar_upcoming",
				Name:        "calendar_upcoming",
				Description: "List upcoming events from the user's primary Google Calendar.",
				ParametersSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"time_min": map[string]any{
							"type":        "string",
							"description": "RFC 3339 lower bound for event start (defaults to now)",
						},
						"max_results": map[string]any{
							"type":        "integer",
							"description": "Maximum events to return (default 10)",
						},
					},
				},
				RequiresAuth: true,
			},
			Execute: calendarUpcoming(apiBase),
		},
	}
}

type gmailMessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type gmailMessageList struct {
	Messages           []gmailMessageRef `json:"messages"`
	ResultSizeEstimate int               `json:"resultSizeEstimate"`
}

type gmailMessage struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (m *gmailMessage) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func gmailSearch(apiBase string) ExecuteFunc {
	return func(ctx context.Context, sess *Session, args map[string]any) (string, error) {
		query, err := stringArg(args, "query", true)
		if err != nil {
			return "", err
		}
		maxResults := intArg(args, "max_results", 10)

		listURL := fmt.Sprintf("%s/gmail/v1/users/me/messages?q=%s&maxResults=%d",
			apiBase, url.QueryEscape(query), maxResults)
		list, err := getJSON[gmailMessageList](ctx, sess, listURL)
		if err != nil {
			return "", err
		}
		if len(list.Messages) == 0 {
			return "no messages matched the query", nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d message(s) matched (showing %d):\n", list.ResultSizeEstimate, len(list.Messages))
		for _, ref := range list.Messages {
			msgURL := fmt.Sprintf("%s/gmail/v1/users/me/messages/%s?format=metadata&metadataHeaders=From&metadataHeaders=Subject&metadataHeaders=Date",
				apiBase, url.PathEscape(ref.ID))
			msg, err := getJSON[gmailMessage](ctx, sess, msgURL)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "- [%s] From: %s | Subject: %s | Date: %s\n  %s\n",
				msg.ID, msg.header("From"), msg.header("Subject"), msg.header("Date"), msg.Snippet)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

func gmailSend(apiBase string) ExecuteFunc {
	return func(ctx context.Context, sess *Session, args map[string]any) (string, error) {
		to, err := stringArg(args, "to", true)
		if err != nil {
			return "", err
		}
		subject, err := stringArg(args, "subject", true)
		if err != nil {
			return "", err
		}
		body, err := stringArg(args, "body", true)
		if err != nil {
			return "", err
		}

		msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
			to, subject, body)
		payload := map[string]string{
			"raw": base64.URLEncoding.EncodeToString([]byte(msg)),
		}

		sent, err := postJSON[gmailMessageRef](ctx, sess,
			apiBase+"/gmail/v1/users/me/messages/send", payload)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("message sent (id %s)", sent.ID), nil
	}
}

type driveFileList struct {
	Files []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		MimeType     string `json:"mimeType"`
		ModifiedTime string `json:"modifiedTime"`
		WebViewLink  string `json:"webViewLink"`
	} `json:"files"`
}

func driveSearch(apiBase string) ExecuteFunc {
	return func(ctx context.Context, sess *Session, args map[string]any) (string, error) {
		query, err := stringArg(args, "query", true)
		if err != nil {
			return "", err
		}
		maxResults := intArg(args, "max_results", 10)

		// Drive query strings single-quote values; escape embedded quotes.
		escaped := strings.ReplaceAll(query, `'`, `\'`)
		q := url.Values{}
		q.Set("q", fmt.Sprintf("name contains '%s' and trashed = false", escaped))
		q.Set("pageSize", fmt.Sprintf("%d", maxResults))
		q.Set("fields", "files(id,name,mimeType,modifiedTime,webViewLink)")

		list, err := getJSON[driveFileList](ctx, sess, apiBase+"/drive/v3/files?"+q.Encode())
		if err != nil {
			return "", err
		}
		if len(list.Files) == 0 {
			return "no files matched the query", nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d file(s):\n", len(list.Files))
		for _, f := range list.Files {
			fmt.Fprintf(&b, "- %s (%s) modified %s\n  %s\n", f.Name, f.MimeType, f.ModifiedTime, f.WebViewLink)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

type calendarEventList struct {
	Items []struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
		Start   struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"start"`
		Location string `json:"location"`
	} `json:"items"`
}

func calendarUpcoming(apiBase string) ExecuteFunc {
	return func(ctx context.Context, sess *Session, args map[string]any) (string, error) {
		timeMin, err := stringArg(args, "time_min", false)
		if err != nil {
			return "", err
		}
		maxResults := intArg(args, "max_results", 10)

		if timeMin == "" {
			timeMin = time.Now().UTC().Format(time.RFC3339)
		}

		q := url.Values{}
		q.Set("maxResults", fmt.Sprintf("%d", maxResults))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		q.Set("timeMin", timeMin)

		list, err := getJSON[calendarEventList](ctx, sess,
			apiBase+"/calendar/v3/calendars/primary/events?"+q.Encode())
		if err != nil {
			return "", err
		}
		if len(list.Items) == 0 {
			return "no upcoming events", nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d event(s):\n", len(list.Items))
		for _, ev := range list.Items {
			start := ev.Start.DateTime
			if start == "" {
				start = ev.Start.Date
			}
			line := fmt.Sprintf("- %s at %s", ev.Summary, start)
			if ev.Location != "" {
				line += " (" + ev.Location + ")"
			}
			b.WriteString(line + "\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}
