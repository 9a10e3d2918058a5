package coach_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/fit4rcex/coach/internal/coach"
)

func TestParseWorkoutRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args map[string]any
		want coach.WorkoutRequest
	}{
		{
			name: "empty equipment and no intensity",
			args: map[string]any{"equipment": []any{}, "targetAreas": []any{"core"}},
			want: coach.WorkoutRequest{
				WorkoutType: "fitness",
				Equipment:   []string{"bodyweight"},
				TargetAreas: []string{"core"},
				Intensity:   "medium",
			},
		},
		{
			name: "nil args",
			args: nil,
			want: coach.WorkoutRequest{
				WorkoutType: "fitness",
				Equipment:   []string{"bodyweight"},
				Intensity:   "medium",
			},
		},
		{
			name: "all fields present",
			args: map[string]any{
				"workoutType":   "powerlifting",
				"equipment":     []any{"full_gym"},
				"targetAreas":   []any{"legs", "back"},
				"intensity":     "high",
				"customization": "bad left knee",
			},
			want: coach.WorkoutRequest{
				WorkoutType: "powerlifting",
				Equipment:   []string{"full_gym"},
				TargetAreas: []string{"legs", "back"},
				Intensity:   "high",
				Notes:       "bad left knee",
			},
		},
		{
			name: "comma separated equipment",
			args: map[string]any{"equipment": "dumbbells, kettlebells ,", "notes": "20 minutes"},
			want: coach.WorkoutRequest{
				WorkoutType: "fitness",
				Equipment:   []string{"dumbbells", "kettlebells"},
				Intensity:   "medium",
				Notes:       "20 minutes",
			},
		},
		{
			name: "string slice and wrong types",
			args: map[string]any{"equipment": []string{"barbell"}, "intensity": 3, "workoutType": "  "},
			want: coach.WorkoutRequest{
				WorkoutType: "fitness",
				Equipment:   []string{"barbell"},
				Intensity:   "medium",
			},
		},
		{
			name: "non-string list items are skipped",
			args: map[string]any{"equipment": []any{1.0, nil}, "targetAreas": []any{"arms", 2}},
			want: coach.WorkoutRequest{
				WorkoutType: "fitness",
				Equipment:   []string{"bodyweight"},
				TargetAreas: []string{"arms"},
				Intensity:   "medium",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := coach.ParseWorkoutRequest(tc.args)
			if got.WorkoutType != tc.want.WorkoutType {
				t.Errorf("WorkoutType = %q, want %q", got.WorkoutType, tc.want.WorkoutType)
			}
			if got.Intensity != tc.want.Intensity {
				t.Errorf("Intensity = %q, want %q", got.Intensity, tc.want.Intensity)
			}
			if got.Notes != tc.want.Notes {
				t.Errorf("Notes = %q, want %q", got.Notes, tc.want.Notes)
			}
			if !slices.Equal(got.Equipment, tc.want.Equipment) {
				t.Errorf("Equipment = %v, want %v", got.Equipment, tc.want.Equipment)
			}
			if !slices.Equal(got.TargetAreas, tc.want.TargetAreas) {
				t.Errorf("TargetAreas = %v, want %v", got.TargetAreas, tc.want.TargetAreas)
			}
		})
	}
}

func TestStartWorkoutGenerationTool(t *testing.T) {
	t.Parallel()

	decl := coach.StartWorkoutGenerationTool()
	if decl.Name != "startWorkoutGeneration" {
		t.Fatalf("Name = %q", decl.Name)
	}
	props, ok := decl.Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %#v", decl.Parameters)
	}
	for _, key := range []string{"workoutType", "equipment", "targetAreas", "intensity", "customization"} {
		if _, ok := props[key]; !ok {
			t.Errorf("property %q missing", key)
		}
	}
	intensity := props["intensity"].(map[string]any)
	if enum := intensity["enum"].([]string); !slices.Contains(enum, coach.DefaultIntensity) {
		t.Errorf("intensity enum %v lacks default %q", enum, coach.DefaultIntensity)
	}
	eq := props["equipment"].(map[string]any)
	if eq["type"] != "array" {
		t.Errorf("equipment type = %v, want array", eq["type"])
	}
}

func TestDefaultInstructions(t *testing.T) {
	t.Parallel()

	got := coach.DefaultInstructions("de")
	if !strings.Contains(got, `"de"`) {
		t.Errorf("instructions do not name the language: %q", got)
	}
	if !strings.Contains(got, coach.StartWorkoutGeneration) {
		t.Errorf("instructions do not name the tool")
	}
	if !strings.Contains(coach.DefaultInstructions(""), `"en"`) {
		t.Errorf("empty language should fall back to en")
	}
}

func TestViewCaption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		view coach.View
		want string
	}{
		{"idle", coach.View{}, "I'm with you."},
		{"user speaking", coach.View{UserSpeaking: true, UserTranscript: "hello", AISpeaking: true, AITranscript: "hi"}, "hello"},
		{"ai speaking", coach.View{AISpeaking: true, AITranscript: "let's go"}, "let's go"},
		{"ai speaking without text", coach.View{AISpeaking: true}, "I'm with you."},
		{"stale ai text after playback", coach.View{AITranscript: "done"}, "I'm with you."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.view.Caption(); got != tc.want {
				t.Errorf("Caption() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	for s, want := range map[coach.State]string{
		coach.StateIdle:       "idle",
		coach.StateConnecting: "connecting",
		coach.StateOpen:       "open",
		coach.StateClosed:     "closed",
		coach.StateErrored:    "errored",
		coach.State(42):       "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
	if coach.StateOpen.Terminal() || !coach.StateErrored.Terminal() || !coach.StateClosed.Terminal() {
		t.Error("Terminal() mismatch")
	}
}
