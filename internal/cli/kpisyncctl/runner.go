package kpisyncctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	UserID     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("kpisyncctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "kpisync API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	userID := fs.String("user", defaults.UserID, "User ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	req, err := buildRequest(strings.TrimSpace(fs.Arg(0)), fs.Args()[1:])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey, *userID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "entities":
		return request{method: http.MethodGet, path: "/v1/remote/entities"}, nil
	case "sync":
		fs := flag.NewFlagSet("sync", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		all := fs.Bool("all", false, "sync every remote entity")
		if err := fs.Parse(args); err != nil {
			return request{}, fmt.Errorf("sync: %w", err)
		}
		if !*all && fs.NArg() == 0 {
			return request{}, fmt.Errorf("sync: name at least one entity or pass -all")
		}
		return request{method: http.MethodPost, path: "/v1/sync", body: map[string]any{
			"entities": nonNil(fs.Args()),
			"all":      *all,
		}}, nil
	case "tables":
		return request{method: http.MethodGet, path: "/v1/tables"}, nil
	case "catalog":
		path := "/v1/catalog"
		if len(args) > 0 {
			path += "?table=" + url.QueryEscape(args[0])
		}
		return request{method: http.MethodGet, path: path}, nil
	case "rebuild":
		return request{method: http.MethodPost, path: "/v1/catalog/rebuild"}, nil
	case "ask":
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return request{}, fmt.Errorf("ask: question is required")
		}
		return request{method: http.MethodPost, path: "/v1/ask", body: map[string]string{"question": question}}, nil
	case "interactions":
		path := "/v1/interactions"
		if len(args) > 0 {
			limit, err := strconv.Atoi(args[0])
			if err != nil || limit < 0 {
				return request{}, fmt.Errorf("interactions: limit must be a non-negative integer")
			}
			path += "?limit=" + strconv.Itoa(limit)
		}
		return request{method: http.MethodGet, path: path}, nil
	case "relationships":
		return request{method: http.MethodGet, path: "/v1/relationships"}, nil
	case "suggestions":
		return request{method: http.MethodGet, path: "/v1/relationships/suggestions"}, nil
	case "export":
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return request{}, fmt.Errorf("export: exactly one table is required")
		}
		return request{method: http.MethodPost, path: "/v1/exports/" + url.PathEscape(args[0])}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func doRequest(ctx context.Context, client *http.Client, r request, endpoint, apiKey, userID string) (int, []byte, error) {
	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(userID) != "" {
		req.Header.Set("X-User-ID", strings.TrimSpace(userID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: kpisyncctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                   GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                    GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  entities                 GET /v1/remote/entities")
	_, _ = fmt.Fprintln(w, "  sync [-all] [entity...]  POST /v1/sync")
	_, _ = fmt.Fprintln(w, "  tables                   GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  catalog [table]          GET /v1/catalog")
	_, _ = fmt.Fprintln(w, "  rebuild                  POST /v1/catalog/rebuild")
	_, _ = fmt.Fprintln(w, "  ask <question>           POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  interactions [limit]     GET /v1/interactions")
	_, _ = fmt.Fprintln(w, "  relationships            GET /v1/relationships")
	_, _ = fmt.Fprintln(w, "  suggestions              GET /v1/relationships/suggestions")
	_, _ = fmt.Fprintln(w, "  export <table>           POST /v1/exports/{table}")
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
