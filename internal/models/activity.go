package models

import (
	"strings"
)

// ActivityKind is the severity or category tag of an activity entry.
type ActivityKind string

const (
	ActivityPlain      ActivityKind = ""
	ActivityInfo       ActivityKind = "info"
	ActivityWarn       ActivityKind = "warn"
	ActivityError      ActivityKind = "error"
	ActivityThought    ActivityKind = "thought"
	ActivityReflection ActivityKind = "reflection"
	ActivityExecution  ActivityKind = "execution"
)

const (
	activityTag    = "ACTIVITY"
	subactivityTag = "SUBACTIVITY"
)

// Activity is the decoded header of an "[ACTIVITY]..." or "[SUBACTIVITY][parent]..." entry.
type Activity struct {
	Sub      bool
	ParentID string
	Kind     ActivityKind
	Body     string
}

// ParseActivity decodes the bracketed header of an activity message. The second return value is false when
// text is not an activity.
//
// Headers look like "[ACTIVITY] text", "[ACTIVITY][ERROR] text", "[SUBACTIVITY][<parent>] text" or
// "[SUBACTIVITY][<parent>][THOUGHT] text".
func ParseActivity(text string) (Activity, bool) {
	if !strings.HasPrefix(text, "["+activityTag+"]") && !strings.HasPrefix(text, "["+subactivityTag+"]") {
		return Activity{}, false
	}

	header, body, _ := strings.Cut(text, " ")
	tags := bracketTags(header)
	if len(tags) == 0 {
		return Activity{}, false
	}

	a := Activity{
		Sub:  tags[0] == subactivityTag,
		Body: strings.TrimSpace(body),
	}
	rest := tags[1:]
	if a.Sub && len(rest) > 0 {
		if kind, ok := activityKind(rest[0]); ok {
			a.Kind = kind
			return a, true
		}
		a.ParentID = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		a.Kind, _ = activityKind(rest[0])
	}
	return a, true
}

func bracketTags(header string) []string {
	var tags []string
	for strings.HasPrefix(header, "[") {
		end := strings.Index(header, "]")
		if end < 0 {
			break
		}
		tags = append(tags, header[1:end])
		header = header[end+1:]
	}
	return tags
}

func activityKind(tag string) (ActivityKind, bool) {
	switch ActivityKind(strings.ToLower(tag)) {
	case ActivityInfo:
		return ActivityInfo, true
	case ActivityWarn:
		return ActivityWarn, true
	case ActivityError:
		return ActivityError, true
	case ActivityThought:
		return ActivityThought, true
	case ActivityReflection:
		return ActivityReflection, true
	case ActivityExecution:
		return ActivityExecution, true
	}
	return ActivityPlain, false
}

// GroupActivities arranges a flat transcript the way it is displayed. Activities and user or assistant
// messages stay at the top level, sub-activities are attached to their parent activity (searched among the
// top-level entries and their direct children), or to the last top-level entry when the parent is unknown.
// Entries that are neither are dropped. A sub-activity already attached under the same parent is skipped.
func GroupActivities(msgs []Message) []Message {
	grouped := make([]Message, 0, len(msgs))
	index := make(map[string]int, len(msgs))

	for _, msg := range msgs {
		act, isActivity := ParseActivity(msg.Message)
		switch {
		case isActivity && act.Sub:
			continue
		case isActivity, msg.Role == RoleUser, msg.Role == RoleAssistant:
		default:
			continue
		}
		msg.Children = nil
		index[msg.ID] = len(grouped)
		grouped = append(grouped, msg)
	}

	for _, msg := range msgs {
		act, isActivity := ParseActivity(msg.Message)
		if !isActivity || !act.Sub {
			continue
		}
		child := msg
		child.Children = nil

		if i, ok := index[act.ParentID]; ok && act.ParentID != "" {
			grouped[i].Children = appendChild(grouped[i].Children, child)
			continue
		}
		if attachToChild(grouped, act.ParentID, child) {
			continue
		}
		if len(grouped) > 0 {
			last := len(grouped) - 1
			grouped[last].Children = appendChild(grouped[last].Children, child)
		}
	}

	return grouped
}

func attachToChild(grouped []Message, parentID string, child Message) bool {
	if parentID == "" {
		return false
	}
	for i := range grouped {
		for j := range grouped[i].Children {
			if grouped[i].Children[j].ID == parentID {
				grouped[i].Children[j].Children = appendChild(grouped[i].Children[j].Children, child)
				return true
			}
		}
	}
	return false
}

func appendChild(children []Message, child Message) []Message {
	for _, c := range children {
		if c.ID == child.ID {
			return children
		}
	}
	return append(children, child)
}
