package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/agixt/agixt-web/internal/models"
)

type agentOption struct {
	Name   string
	Active bool
}

// HandleAgent switches the agent answering the user's messages. It expects an "agent" form field naming an
// agent of the active company and remembers the choice in the agent cookie, then sends the browser back to
// the conversation named by "conversation_id".
func (m Main) HandleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := SessionFromContext(r.Context())
	if !ok {
		m.redirectToAuth(w, r)
		return
	}
	if !session.Capabilities().AgentSelector {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	name := strings.TrimSpace(r.FormValue("agent"))
	company, ok := session.User.ActiveCompany()
	if !ok || !company.HasAgent(name) {
		m.logger.Error("Unknown agent", slog.String("agent", name))
		http.Error(w, "Unknown agent", http.StatusBadRequest)
		return
	}

	m.setCookie(w, models.CookieAgent, name, 0)
	http.Redirect(w, r, chatPath(r.FormValue("conversation_id")), http.StatusSeeOther)
}

// agentOptions lists the agents of the active company, marking the one the session talks to.
func (m Main) agentOptions(session models.Session) []agentOption {
	company, ok := session.User.ActiveCompany()
	if !ok {
		return nil
	}

	active := session.ActiveAgent()
	if active == "" {
		active = m.cfg.DefaultAgent
	}
	options := make([]agentOption, len(company.Agents))
	for i, a := range company.Agents {
		options[i] = agentOption{Name: a.Name, Active: a.Name == active}
	}
	return options
}

func chatPath(conversationID string) string {
	if conversationID == "" || conversationID == models.NewConversationID {
		return "/chat"
	}
	return "/chat/" + url.PathEscape(conversationID)
}
