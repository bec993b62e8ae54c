// ABOUTME: Admin CLI for grimoire-gateway status and management
// ABOUTME: Displays live sessions, the tool catalog, audit entries, and usage stats

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"
)

type Session struct {
	ID           string   `json:"id"`
	OrgID        string   `json:"org_id"`
	EnvID        string   `json:"env_id"`
	SubOrgID     string   `json:"sub_org_id"`
	Scopes       []string `json:"scopes"`
	Unrestricted bool     `json:"unrestricted"`
	CreatedAt    string   `json:"created_at"`
}

type SessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Pack        string `json:"pack"`
	OwningScope string `json:"owning_scope"`
}

type CatalogResponse struct {
	Packs map[string]string `json:"packs"`
	Tools []Tool            `json:"tools"`
}

type AuditEntry struct {
	OrgID     string    `json:"org_id"`
	EnvID     string    `json:"env_id"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	ToolName  string    `json:"tool_name"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

type AuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}

type UsageResponse struct {
	Stats struct {
		CallCount     int64   `json:"call_count"`
		ErrorCount    int64   `json:"error_count"`
		TotalMs       int64   `json:"total_ms"`
		AvgDurationMs float64 `json:"avg_duration_ms"`
	} `json:"stats"`
	Recent []struct {
		ToolName   string    `json:"tool_name"`
		OrgID      string    `json:"org_id"`
		DurationMs int64     `json:"duration_ms"`
		IsError    bool      `json:"is_error"`
		CreatedAt  time.Time `json:"created_at"`
	} `json:"recent"`
}

const banner = `
            _                 _                          _           _
  __ _ _ __(_)_ __ ___   ___ (_)_ __ ___        __ _  __| |_ __ ___ (_)_ __
 / _' | '__| | '_ ' _ \ / _ \| | '__/ _ \_____ / _' |/ _' | '_ ' _ \| | '_ \
| (_| | |  | | | | | | | (_) | | | |  __/_____| (_| | (_| | | | | | | | | | |
 \__, |_|  |_|_| |_| |_|\___/|_|_|  \___|      \__,_|\__,_|_| |_| |_|_|_| |_|
 |___/
`

// client wraps the ops API with bearer-token auth.
type client struct {
	baseURL string
	token   string
}

func (c *client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("unauthorized: check GRIMOIRE_OPS_TOKEN or -token")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("unauthorized: check GRIMOIRE_OPS_TOKEN or -token")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// defaultToken reads the token saved by `grimoire-gateway bootstrap`.
func defaultToken() string {
	if v := os.Getenv("GRIMOIRE_OPS_TOKEN"); v != "" {
		return v
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	data, err := os.ReadFile(filepath.Join(configDir, "grimoire", "ops-token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func main() {
	gateway := flag.String("gateway", getEnv("GRIMOIRE_GATEWAY_HTTP", "http://localhost:8080"), "Gateway HTTP URL")
	token := flag.String("token", defaultToken(), "Operator bearer token")
	flag.Parse()

	c := &client{baseURL: strings.TrimSuffix(*gateway, "/"), token: *token}

	cmd := flag.Arg(0)
	var err error
	switch cmd {
	case "", "status":
		err = printStatus(c)
	case "sessions":
		err = printSessions(c)
	case "catalog":
		err = printCatalog(c)
	case "audit":
		err = printAudit(c, flag.Args()[1:])
	case "usage":
		err = printUsage(c, flag.Args()[1:])
	case "revoke":
		if flag.NArg() < 2 {
			err = fmt.Errorf("usage: grimoire-admin revoke <session-id>")
		} else {
			err = revokeSession(c, flag.Arg(1))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Commands: status, sessions, catalog, audit, usage, revoke")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printStatus(c *client) error {
	fmt.Print(banner)

	printHealth(c.baseURL)
	fmt.Println()

	if err := printSessions(c); err != nil {
		return err
	}
	fmt.Println()
	return printCatalog(c)
}

func printHealth(baseURL string) {
	fmt.Println("  Health")
	fmt.Println("  ------")

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		fmt.Printf("  Gateway:  UNREACHABLE (%v)\n", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Printf("  Gateway:  OK\n")
	} else {
		fmt.Printf("  Gateway:  ERROR (status %d)\n", resp.StatusCode)
	}

	resp, err = http.Get(baseURL + "/health/ready")
	if err != nil {
		fmt.Printf("  Ready:    UNKNOWN\n")
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	status := strings.TrimSpace(string(body))

	if resp.StatusCode == http.StatusOK {
		fmt.Printf("  Ready:    %s\n", status)
	} else {
		fmt.Printf("  Ready:    NOT READY (%s)\n", status)
	}
}

func printSessions(c *client) error {
	fmt.Println("  Live Sessions")
	fmt.Println("  -------------")

	var resp SessionsResponse
	if err := c.get("/ops/api/sessions", &resp); err != nil {
		return err
	}

	if len(resp.Sessions) == 0 {
		fmt.Println("  (no live sessions)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SESSION\tORG\tENV\tSCOPES\tADMITTED")
	fmt.Fprintln(w, "  -------\t---\t---\t------\t--------")
	for _, s := range resp.Sessions {
		scopes := "unrestricted"
		if !s.Unrestricted {
			if len(s.Scopes) == 0 {
				scopes = "(none)"
			} else {
				scopes = strings.Join(s.Scopes, ", ")
			}
		}
		id := s.ID
		if len(id) > 24 {
			id = id[:21] + "..."
		}
		admitted := s.CreatedAt
		if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			admitted = t.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", id, s.OrgID, s.EnvID, scopes, admitted)
	}
	return w.Flush()
}

func printCatalog(c *client) error {
	fmt.Println("  Tool Catalog")
	fmt.Println("  ------------")

	var resp CatalogResponse
	if err := c.get("/ops/api/catalog", &resp); err != nil {
		return err
	}

	if len(resp.Tools) == 0 {
		fmt.Println("  (no tools registered)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TOOL\tPACK\tSCOPE")
	fmt.Fprintln(w, "  ----\t----\t-----")
	for _, t := range resp.Tools {
		scope := t.OwningScope
		if scope == "" {
			scope = "(unscoped)"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", t.Name, t.Pack, scope)
	}
	return w.Flush()
}

func printAudit(c *client, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	org := fs.String("org", "", "Filter by organization")
	env := fs.String("env", "", "Filter by environment")
	sessionID := fs.String("session", "", "Filter by session id")
	action := fs.String("action", "", "Filter by action")
	limit := fs.Int("limit", 50, "Max entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	if *org != "" {
		q.Set("org", *org)
	}
	if *env != "" {
		q.Set("env", *env)
	}
	if *sessionID != "" {
		q.Set("session", *sessionID)
	}
	if *action != "" {
		q.Set("action", *action)
	}
	q.Set("limit", fmt.Sprint(*limit))

	var resp AuditResponse
	if err := c.get("/ops/api/audit?"+q.Encode(), &resp); err != nil {
		return err
	}

	if len(resp.Entries) == 0 {
		fmt.Println("(no audit entries)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tORG\tSESSION\tTOOL\tDETAIL")
	fmt.Fprintln(w, "----\t------\t---\t-------\t----\t------")
	for _, e := range resp.Entries {
		sessionDisplay := e.SessionID
		if len(sessionDisplay) > 12 {
			sessionDisplay = sessionDisplay[:12]
		}
		detail := e.Detail
		if len(detail) > 40 {
			detail = detail[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("Jan 02 15:04:05"), e.Action, e.OrgID, sessionDisplay, e.ToolName, detail)
	}
	return w.Flush()
}

func printUsage(c *client, args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	org := fs.String("org", "", "Filter by organization")
	env := fs.String("env", "", "Filter by environment")
	tool := fs.String("tool", "", "Filter by tool name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	if *org != "" {
		q.Set("org", *org)
	}
	if *env != "" {
		q.Set("env", *env)
	}
	if *tool != "" {
		q.Set("tool", *tool)
	}

	var resp UsageResponse
	if err := c.get("/ops/api/usage?"+q.Encode(), &resp); err != nil {
		return err
	}

	fmt.Println("Usage Stats")
	fmt.Println("-----------")
	fmt.Printf("Calls:        %d\n", resp.Stats.CallCount)
	fmt.Printf("Errors:       %d\n", resp.Stats.ErrorCount)
	fmt.Printf("Total time:   %dms\n", resp.Stats.TotalMs)
	fmt.Printf("Avg duration: %.1fms\n", resp.Stats.AvgDurationMs)

	if len(resp.Recent) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTOOL\tORG\tDURATION\tRESULT")
	fmt.Fprintln(w, "----\t----\t---\t--------\t------")
	for _, u := range resp.Recent {
		result := "ok"
		if u.IsError {
			result = "error"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n",
			u.CreatedAt.Format("Jan 02 15:04:05"), u.ToolName, u.OrgID, u.DurationMs, result)
	}
	return w.Flush()
}

func revokeSession(c *client, sessionID string) error {
	if err := c.delete("/ops/api/sessions/" + url.PathEscape(sessionID)); err != nil {
		return err
	}
	fmt.Printf("revoked %s\n", sessionID)
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
