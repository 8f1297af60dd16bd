package models

// User is the authenticated account as returned by the server.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Companies []Company `json:"companies"`
}

// Company is a membership of the user, carrying the role the user holds in it.
type Company struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id,omitempty"`
	Name      string  `json:"name"`
	Primary   bool    `json:"primary"`
	RoleID    int     `json:"role_id"`
	Agents    []Agent `json:"agents"`
}

// Agent is an agent available within a company.
type Agent struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Default   bool   `json:"default"`
}

// Role identifiers as assigned by the server. Lower is more privileged.
const (
	RoleIDSuperAdmin = 1
	RoleIDAdmin      = 2
	RoleIDUser       = 3
	RoleIDChild      = 4
)

// ActiveCompany returns the primary company of u, or its first company when none is flagged primary.
func (u User) ActiveCompany() (Company, bool) {
	for _, c := range u.Companies {
		if c.Primary {
			return c, true
		}
	}
	if len(u.Companies) > 0 {
		return u.Companies[0], true
	}
	return Company{}, false
}

// DefaultAgent returns the agent flagged default in c, or its first agent.
func (c Company) DefaultAgent() (Agent, bool) {
	for _, a := range c.Agents {
		if a.Default {
			return a, true
		}
	}
	if len(c.Agents) > 0 {
		return c.Agents[0], true
	}
	return Agent{}, false
}

// HasAgent reports whether an agent named name is available in c.
func (c Company) HasAgent(name string) bool {
	for _, a := range c.Agents {
		if a.Name == name {
			return true
		}
	}
	return false
}

// NavItem is an entry of the navigation menu. RoleThreshold is the least privileged role allowed to see it;
// zero means every role.
type NavItem struct {
	Title         string
	URL           string
	RoleThreshold int
}

const (
	navNewChat       = "New Chat"
	navDocumentation = "Documentation"
)

// DefaultNavItems is the full navigation menu.
var DefaultNavItems = []NavItem{
	{Title: navNewChat, URL: "/chat"},
	{Title: "Automation", URL: "/settings/prompts", RoleThreshold: RoleIDUser},
	{Title: "Agent Management", URL: "/settings", RoleThreshold: RoleIDUser},
	{Title: "Team", URL: "/team", RoleThreshold: RoleIDAdmin},
	{Title: navDocumentation, URL: "/docs"},
}

// FilterNav returns the navigation items visible to a session. Without a verified user or company only the
// documentation is reachable, children get the new chat entry and the documentation, everybody else gets
// the items their role meets the threshold of.
func FilterNav(items []NavItem, s Session) []NavItem {
	company, hasCompany := s.User.ActiveCompany()
	if s.JWT == "" || !hasCompany {
		return pickNav(items, func(it NavItem) bool { return it.Title == navDocumentation })
	}
	if company.RoleID == RoleIDChild {
		return pickNav(items, func(it NavItem) bool {
			return it.Title == navNewChat || it.Title == navDocumentation
		})
	}
	return pickNav(items, func(it NavItem) bool {
		return it.RoleThreshold == 0 || company.RoleID <= it.RoleThreshold
	})
}

func pickNav(items []NavItem, keep func(NavItem) bool) []NavItem {
	var res []NavItem
	for _, it := range items {
		if keep(it) {
			res = append(res, it)
		}
	}
	return res
}

// Capabilities lists which parts of the chat UI a role may use.
type Capabilities struct {
	MessageActions         bool
	AgentSelector          bool
	AccountSection         bool
	ConversationManagement bool
	TextInput              bool
	FileUpload             bool
	// ForceTTS makes every submitted message request a spoken answer.
	ForceTTS bool
}

// CapabilitiesFor returns the capabilities of roleID. Unknown or missing roles get the full interface.
func CapabilitiesFor(roleID int) Capabilities {
	if roleID == RoleIDChild {
		return Capabilities{ForceTTS: true}
	}
	return Capabilities{
		MessageActions:         true,
		AgentSelector:          true,
		AccountSection:         true,
		ConversationManagement: true,
		TextInput:              true,
		FileUpload:             true,
	}
}
