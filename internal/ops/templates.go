// ABOUTME: Template rendering functions for the operator console
// ABOUTME: Loads templates from embedded filesystem and renders them

package ops

import (
	"bytes"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/yuin/goldmark"
)

// Template data types
type overviewData struct {
	Title        string
	ServerTime   string
	PackCount    int
	ToolCount    int
	SessionCount int
	StoreHealthy bool
}

type catalogToolItem struct {
	Name        string
	Description template.HTML
	OwningScope string
}

type catalogPackItem struct {
	ID      string
	Version string
	Tools   []catalogToolItem
}

type catalogPageData struct {
	Title string
	Packs []catalogPackItem
}

type sessionRowData struct {
	ID           string
	OrgID        string
	EnvID        string
	SubOrgID     string
	Scopes       []string
	Unrestricted bool
	CreatedAt    string
}

type sessionsPageData struct {
	Title    string
	Sessions []sessionRowData
	Error    string
}

func (c *Console) render(w http.ResponseWriter, page string, data any) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/"+page))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		c.logger.Error("failed to render page", "page", page, "error", err)
	}
}

// handleOverview renders the landing page with gateway counters.
func (c *Console) handleOverview(w http.ResponseWriter, r *http.Request) {
	data := overviewData{
		Title:      "Gateway Overview",
		ServerTime: time.Now().UTC().Format(time.RFC3339),
		PackCount:  len(c.registry.Packs()),
		ToolCount:  len(c.registry.Tools()),
	}

	records, err := c.sessions.List(r.Context())
	if err == nil {
		data.SessionCount = len(records)
		data.StoreHealthy = true
	}

	c.render(w, "overview.html", data)
}

// handleCatalogPage renders the tool catalog grouped by pack. Tool
// descriptions are markdown and are converted to HTML for display.
func (c *Console) handleCatalogPage(w http.ResponseWriter, r *http.Request) {
	byPack := make(map[string][]catalogToolItem)
	for _, t := range c.registry.Tools() {
		byPack[t.PackID] = append(byPack[t.PackID], catalogToolItem{
			Name:        t.Def.Name,
			Description: renderMarkdown(c, t.Def.Description),
			OwningScope: t.Def.OwningScope,
		})
	}

	versions := c.registry.Packs()
	packs := make([]catalogPackItem, 0, len(byPack))
	for id, tools := range byPack {
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
		packs = append(packs, catalogPackItem{ID: id, Version: versions[id], Tools: tools})
	}
	sort.Slice(packs, func(i, j int) bool { return packs[i].ID < packs[j].ID })

	c.render(w, "catalog.html", catalogPageData{
		Title: "Tool Catalog",
		Packs: packs,
	})
}

// handleSessionsPage renders the live session table.
func (c *Console) handleSessionsPage(w http.ResponseWriter, r *http.Request) {
	data := sessionsPageData{Title: "Live Sessions"}

	records, err := c.sessions.List(r.Context())
	if err != nil {
		c.logger.Error("failed to list sessions for page", "error", err)
		data.Error = "Session store is unreachable."
		c.render(w, "sessions.html", data)
		return
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	for _, rec := range records {
		data.Sessions = append(data.Sessions, sessionRowData{
			ID:           rec.ID,
			OrgID:        rec.OrgID,
			EnvID:        rec.EnvID,
			SubOrgID:     rec.SubOrgID,
			Scopes:       rec.Scopes,
			Unrestricted: rec.Scopes == nil,
			CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.render(w, "sessions.html", data)
}

// renderMarkdown converts a markdown tool description to HTML.
func renderMarkdown(c *Console, md string) template.HTML {
	if md == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		c.logger.Error("failed to convert markdown", "error", err)
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
