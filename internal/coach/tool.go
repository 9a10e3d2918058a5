package coach

import (
	"fmt"
	"strings"

	"github.com/fit4rcex/coach/pkg/provider/s2s"
)

// StartWorkoutGeneration is the name of the function the model calls once it
// knows enough to build a workout.
const StartWorkoutGeneration = "startWorkoutGeneration"

// Defaults applied to missing tool-call arguments.
const (
	DefaultIntensity   = "medium"
	DefaultEquipment   = "bodyweight"
	DefaultWorkoutType = "fitness"
)

// toolAck is the fixed result sent back for every honoured or duplicate
// workout call.
const toolAck = "Workout generation started."

var (
	workoutTypes = []string{"fitness", "strength", "cardio", "hiit", "yoga", "powerlifting", "mobility", "calisthenics"}
	equipment    = []string{"bodyweight", "dumbbells", "kettlebells", "resistance_bands", "barbell", "full_gym", "pull_up_bar"}
	targetAreas  = []string{"full_body", "upper_body", "lower_body", "core", "arms", "legs", "back", "chest", "shoulders", "glutes"}
	intensities  = []string{"low", "medium", "high"}
)

// StartWorkoutGenerationTool returns the function declaration offered to the
// voice model.
func StartWorkoutGenerationTool() s2s.ToolDeclaration {
	return s2s.ToolDeclaration{
		Name:        StartWorkoutGeneration,
		Description: "Start generating a personalised workout once the user's goal, equipment and intensity are known.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workoutType": map[string]any{
					"type":        "string",
					"enum":        workoutTypes,
					"description": "Kind of workout the user asked for.",
				},
				"equipment": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string", "enum": equipment},
					"description": "Equipment the user has available.",
				},
				"targetAreas": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string", "enum": targetAreas},
					"description": "Body areas to focus on.",
				},
				"intensity": map[string]any{
					"type": "string",
					"enum": intensities,
				},
				"customization": map[string]any{
					"type":        "string",
					"description": "Free-text notes such as injuries, time limits or preferences.",
				},
			},
			"required": []string{"workoutType"},
		},
	}
}

// DefaultInstructions returns the coach persona prompt. The model is told to
// ask for intensity and equipment before calling the tool; the app still
// defaults both if it does not.
func DefaultInstructions(language string) string {
	if language == "" {
		language = "en"
	}
	return fmt.Sprintf(`You are Fit-4rce-X, an upbeat personal fitness coach speaking with the user in real time.
Always reply in the language with code %q. Keep answers short and spoken, never read out lists or markup.
Find out what kind of workout the user wants, which equipment they have, which body areas to target and how intense it should be.
If intensity or equipment is unclear, ask once before continuing.
When you know enough, confirm the plan in one sentence and call %s exactly once.`, language, StartWorkoutGeneration)
}

// WorkoutRequest is the normalised argument set of a workout call.
type WorkoutRequest struct {
	WorkoutType string
	Equipment   []string
	TargetAreas []string
	Intensity   string
	Notes       string

	// Language is the session language the plan should be written in.
	Language string
}

// ParseWorkoutRequest extracts a WorkoutRequest from raw tool arguments and
// fills in defaults. Missing or malformed fields never fail; they fall back.
func ParseWorkoutRequest(args map[string]any) WorkoutRequest {
	req := WorkoutRequest{
		WorkoutType: stringArg(args, "workoutType"),
		Equipment:   listArg(args, "equipment"),
		TargetAreas: listArg(args, "targetAreas"),
		Intensity:   stringArg(args, "intensity"),
		Notes:       stringArg(args, "customization"),
	}
	if req.Notes == "" {
		req.Notes = stringArg(args, "notes")
	}
	if req.WorkoutType == "" {
		req.WorkoutType = DefaultWorkoutType
	}
	if req.Intensity == "" {
		req.Intensity = DefaultIntensity
	}
	if len(req.Equipment) == 0 {
		req.Equipment = []string{DefaultEquipment}
	}
	return req
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// listArg accepts a JSON array, a []string or a comma-separated string.
func listArg(args map[string]any, key string) []string {
	var raw []string
	switch v := args[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	case string:
		raw = strings.Split(v, ",")
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
