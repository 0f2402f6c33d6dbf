package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderPlanHTML(t *testing.T) {
	view := PlanView{
		Title:       "Build a Space Shooter",
		Goal:        "Make a game where a ship dodges asteroids",
		Summary:     "Six weeks from blank screen to a playable arcade game.",
		Skills:      []string{"loops", "sprites", "collision detection"},
		Milestones:  []string{"Ship moves", "Asteroids spawn", "Score counter"},
		LearnerName: "Maya",
		TotalWeeks:  6,
		GeneratedAt: time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC),
		Weeks: []PlanWeekView{
			{
				WeekNumber:  1,
				Title:       "Getting the ship on screen",
				Objectives:  []string{"Set up the project", "Draw the ship sprite"},
				Concepts:    []string{"coordinates", "the game loop"},
				Deliverable: "A ship that moves with arrow keys",
				Status:      "current",
			},
			{
				WeekNumber:  2,
				Title:       "Asteroids",
				Deliverable: "Asteroids drift across the screen",
				Status:      "upcoming",
			},
		},
	}

	html, err := RenderPlanHTML(view)
	if err != nil {
		t.Fatalf("RenderPlanHTML: %v", err)
	}

	for _, want := range []string{
		"Build a Space Shooter",
		"Maya",
		"6 week plan",
		"March 9, 2026",
		"Week 1: Getting the ship on screen",
		"Draw the ship sprite",
		"collision detection",
		"Week 2: Asteroids",
		"Asteroids drift across the screen",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderPlanHTMLEscapesContent(t *testing.T) {
	view := PlanView{
		Title:       "<script>alert(1)</script>",
		TotalWeeks:  2,
		GeneratedAt: time.Now(),
	}

	html, err := RenderPlanHTML(view)
	if err != nil {
		t.Fatalf("RenderPlanHTML: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("title was not HTML-escaped")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Build a Space Shooter", "Build-a-Space-Shooter"},
		{"what?!", "what"},
		{"", "plan"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b&c")
	if got != "a%20b%26c" {
		t.Errorf("percentEncodeForDataURL = %q", got)
	}
}
