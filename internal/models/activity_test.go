package models_test

import (
	"testing"

	"github.com/agixt/agixt-web/internal/models"
)

func TestParseActivity(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   models.Activity
		wantOK bool
	}{
		{
			name:   "Activity",
			text:   "[ACTIVITY] Searching the web",
			want:   models.Activity{Body: "Searching the web"},
			wantOK: true,
		},
		{
			name:   "Activity with kind",
			text:   "[ACTIVITY][ERROR] Failed to search",
			want:   models.Activity{Kind: models.ActivityError, Body: "Failed to search"},
			wantOK: true,
		},
		{
			name:   "Sub-activity",
			text:   "[SUBACTIVITY][a1] Reading page",
			want:   models.Activity{Sub: true, ParentID: "a1", Body: "Reading page"},
			wantOK: true,
		},
		{
			name:   "Sub-activity with kind",
			text:   "[SUBACTIVITY][a1][THOUGHT] Maybe",
			want:   models.Activity{Sub: true, ParentID: "a1", Kind: models.ActivityThought, Body: "Maybe"},
			wantOK: true,
		},
		{
			name:   "Sub-activity without parent",
			text:   "[SUBACTIVITY][EXECUTION] Running",
			want:   models.Activity{Sub: true, Kind: models.ActivityExecution, Body: "Running"},
			wantOK: true,
		},
		{
			name: "Plain message",
			text: "Hello [ACTIVITY]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := models.ParseActivity(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ParseActivity() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseActivity() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGroupActivities(t *testing.T) {
	msgs := []models.Message{
		{ID: "m1", Role: models.RoleUser, Message: "Hello"},
		{ID: "a1", Role: models.RoleSystem, Message: "[ACTIVITY] Searching"},
		{ID: "s1", Role: models.RoleSystem, Message: "[SUBACTIVITY][a1] Page one"},
		{ID: "s2", Role: models.RoleSystem, Message: "[SUBACTIVITY][s1] Detail"},
		{ID: "s1", Role: models.RoleSystem, Message: "[SUBACTIVITY][a1] Page one"},
		{ID: "x1", Role: models.RoleSystem, Message: "internal note"},
		{ID: "f1", Role: models.RoleFunction, Message: "{}"},
		{ID: "m2", Role: models.RoleAssistant, Message: "Done"},
		{ID: "s3", Role: models.RoleSystem, Message: "[SUBACTIVITY][gone] Orphan"},
	}

	got := models.GroupActivities(msgs)

	wantTop := []string{"m1", "a1", "m2"}
	if len(got) != len(wantTop) {
		t.Fatalf("GroupActivities() = %+v, want top-level %v", got, wantTop)
	}
	for i, id := range wantTop {
		if got[i].ID != id {
			t.Errorf("top-level[%d] = %s, want %s", i, got[i].ID, id)
		}
	}

	activity := got[1]
	if len(activity.Children) != 1 || activity.Children[0].ID != "s1" {
		t.Fatalf("a1 children = %+v, want [s1] without duplicates", activity.Children)
	}
	if nested := activity.Children[0].Children; len(nested) != 1 || nested[0].ID != "s2" {
		t.Errorf("s1 children = %+v, want [s2]", nested)
	}
	if orphans := got[2].Children; len(orphans) != 1 || orphans[0].ID != "s3" {
		t.Errorf("m2 children = %+v, want the orphan attached to the last entry", orphans)
	}
	if len(msgs[1].Children) != 0 {
		t.Error("GroupActivities() should not modify its input")
	}
}

func TestVisibleConversations(t *testing.T) {
	convs := []models.Conversation{
		{ID: "c1", Name: "Old", UpdatedAt: at("10:00:00")},
		{ID: "c2", Name: "PROMPT_TEST run 3", UpdatedAt: at("12:00:00")},
		{ID: "c3", Name: "New", UpdatedAt: at("11:00:00")},
	}

	got := models.VisibleConversations(convs)

	if len(got) != 2 || got[0].ID != "c3" || got[1].ID != "c1" {
		t.Errorf("VisibleConversations() = %+v, want c3 then c1", got)
	}
}
