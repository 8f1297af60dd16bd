package models

// Session is the per-request client state: the token, the verified user and the toggles the browser keeps
// in cookies. It is built once at the HTTP boundary and passed explicitly to everything below it.
type Session struct {
	JWT   string
	User  User
	Agent string
	Flags map[string]string
}

// Session cookie and flag names.
const (
	CookieJWT        = "jwt"
	CookieAgent      = "agixt-agent"
	CookieInvitation = "invitation"
	CookieEmail      = "email"
	CookieCompany    = "company"

	FlagTTS              = "tts"
	FlagWebSearch        = "websearch"
	FlagCreateImage      = "create_image"
	FlagAnalyzeUserInput = "analyze_user_input"
)

// FlagCookies maps request flags to the cookies holding them.
var FlagCookies = map[string]string{
	FlagTTS:              "agixt-tts",
	FlagWebSearch:        "agixt-websearch",
	FlagCreateImage:      "agixt-create-image",
	FlagAnalyzeUserInput: "agixt-analyze-user-input",
}

// RoleID returns the role of the session in its active company, or zero when there is none.
func (s Session) RoleID() int {
	c, ok := s.User.ActiveCompany()
	if !ok {
		return 0
	}
	return c.RoleID
}

// Capabilities returns the UI capabilities of the session.
func (s Session) Capabilities() Capabilities {
	return CapabilitiesFor(s.RoleID())
}

// ActiveAgent returns the agent the session talks to: the one chosen in the agent cookie, else the default
// agent of the active company. It is empty when neither names one.
func (s Session) ActiveAgent() string {
	if s.Agent != "" {
		return s.Agent
	}
	if c, ok := s.User.ActiveCompany(); ok {
		if a, ok := c.DefaultAgent(); ok {
			return a.Name
		}
	}
	return ""
}

// CompletionRequest builds a request for text in conversationID carrying the session's agent, company and
// flags. Children always get spoken answers.
func (s Session) CompletionRequest(conversationID, text string, files map[string]string) CompletionRequest {
	req := CompletionRequest{
		Agent:          s.ActiveAgent(),
		ConversationID: conversationID,
		Text:           text,
		Files:          files,
		Flags:          make(map[string]string, len(s.Flags)+1),
	}
	if req.ConversationID == "" {
		req.ConversationID = NewConversationID
	}
	if c, ok := s.User.ActiveCompany(); ok {
		req.CompanyID = c.ID
	}
	for k, v := range s.Flags {
		if v != "" {
			req.Flags[k] = v
		}
	}
	if s.Capabilities().ForceTTS {
		req.Flags[FlagTTS] = "true"
	}
	return req
}
