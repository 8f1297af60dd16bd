package models_test

import (
	"testing"
	"time"

	"github.com/agixt/agixt-web/internal/models"
)

func at(hms string) time.Time {
	t, err := time.Parse(time.TimeOnly, hms)
	if err != nil {
		panic(err)
	}
	return t
}

func userWithRole(roleID int) models.User {
	return models.User{
		ID: "u1",
		Companies: []models.Company{
			{ID: "co0", RoleID: models.RoleIDSuperAdmin},
			{
				ID:      "co1",
				Primary: true,
				RoleID:  roleID,
				Agents: []models.Agent{
					{Name: "Helper"},
					{Name: "XT", Default: true},
				},
			},
		},
	}
}

func navTitles(items []models.NavItem) []string {
	titles := make([]string, len(items))
	for i, it := range items {
		titles[i] = it.Title
	}
	return titles
}

func TestFilterNav(t *testing.T) {
	tests := []struct {
		name    string
		session models.Session
		want    []string
	}{
		{
			name:    "Anonymous",
			session: models.Session{},
			want:    []string{"Documentation"},
		},
		{
			name:    "No company",
			session: models.Session{JWT: "token", User: models.User{ID: "u1"}},
			want:    []string{"Documentation"},
		},
		{
			name:    "Child",
			session: models.Session{JWT: "token", User: userWithRole(models.RoleIDChild)},
			want:    []string{"New Chat", "Documentation"},
		},
		{
			name:    "User",
			session: models.Session{JWT: "token", User: userWithRole(models.RoleIDUser)},
			want:    []string{"New Chat", "Automation", "Agent Management", "Documentation"},
		},
		{
			name:    "Admin",
			session: models.Session{JWT: "token", User: userWithRole(models.RoleIDAdmin)},
			want:    []string{"New Chat", "Automation", "Agent Management", "Team", "Documentation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := navTitles(models.FilterNav(models.DefaultNavItems, tt.session))
			if len(got) != len(tt.want) {
				t.Fatalf("FilterNav() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("FilterNav() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestCapabilitiesFor(t *testing.T) {
	child := models.CapabilitiesFor(models.RoleIDChild)
	if child != (models.Capabilities{ForceTTS: true}) {
		t.Errorf("CapabilitiesFor(child) = %+v, want voice only with forced TTS", child)
	}

	for _, role := range []int{0, models.RoleIDSuperAdmin, models.RoleIDAdmin, models.RoleIDUser} {
		caps := models.CapabilitiesFor(role)
		if !caps.TextInput || !caps.MessageActions || !caps.ConversationManagement || caps.ForceTTS {
			t.Errorf("CapabilitiesFor(%d) = %+v, want the full interface", role, caps)
		}
	}
}

func TestSessionCompletionRequest(t *testing.T) {
	tests := []struct {
		name        string
		session     models.Session
		convID      string
		wantAgent   string
		wantCompany string
		wantConvID  string
		wantFlags   map[string]string
	}{
		{
			name: "Agent cookie and flags",
			session: models.Session{
				User:  userWithRole(models.RoleIDUser),
				Agent: "Helper",
				Flags: map[string]string{models.FlagWebSearch: "true", models.FlagTTS: ""},
			},
			convID:      "c1",
			wantAgent:   "Helper",
			wantCompany: "co1",
			wantConvID:  "c1",
			wantFlags:   map[string]string{models.FlagWebSearch: "true"},
		},
		{
			name:        "Company default agent",
			session:     models.Session{User: userWithRole(models.RoleIDUser)},
			wantAgent:   "XT",
			wantCompany: "co1",
			wantConvID:  models.NewConversationID,
			wantFlags:   map[string]string{},
		},
		{
			name:        "Child forces TTS",
			session:     models.Session{User: userWithRole(models.RoleIDChild)},
			convID:      "c2",
			wantAgent:   "XT",
			wantCompany: "co1",
			wantConvID:  "c2",
			wantFlags:   map[string]string{models.FlagTTS: "true"},
		},
		{
			name:       "No company",
			session:    models.Session{Agent: "Helper"},
			wantAgent:  "Helper",
			wantConvID: models.NewConversationID,
			wantFlags:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.session.CompletionRequest(tt.convID, "Hello", nil)

			if req.Agent != tt.wantAgent {
				t.Errorf("Agent = %q, want %q", req.Agent, tt.wantAgent)
			}
			if req.CompanyID != tt.wantCompany {
				t.Errorf("CompanyID = %q, want %q", req.CompanyID, tt.wantCompany)
			}
			if req.ConversationID != tt.wantConvID {
				t.Errorf("ConversationID = %q, want %q", req.ConversationID, tt.wantConvID)
			}
			if req.Text != "Hello" {
				t.Errorf("Text = %q, want %q", req.Text, "Hello")
			}
			if len(req.Flags) != len(tt.wantFlags) {
				t.Fatalf("Flags = %v, want %v", req.Flags, tt.wantFlags)
			}
			for k, v := range tt.wantFlags {
				if req.Flags[k] != v {
					t.Errorf("Flags[%s] = %q, want %q", k, req.Flags[k], v)
				}
			}
		})
	}
}

func TestCompanyHasAgent(t *testing.T) {
	company := userWithRole(models.RoleIDUser).Companies[0]

	if !company.HasAgent("XT") {
		t.Error("HasAgent(XT) = false, want true")
	}
	if company.HasAgent("Stranger") {
		t.Error("HasAgent(Stranger) = true, want false")
	}
	if (models.Company{}).HasAgent("") {
		t.Error("HasAgent on a company without agents = true, want false")
	}
}
