package script

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scene is one timed beat of a script. SceneNumber is the identity that
// recommendations and diffs key on; it is stable across versions but unique
// only within one version's scene list.
type Scene struct {
	SceneNumber           int       `json:"scene_number"`
	Text                  string    `json:"text"`
	StartSec              float64   `json:"start_sec"`
	EndSec                float64   `json:"end_sec"`
	Score                 float64   `json:"score"`
	Variants              []string  `json:"variants,omitempty"`
	ManuallyEdited        bool      `json:"manually_edited"`
	RecommendationApplied bool      `json:"recommendation_applied"`
	LastModified          time.Time `json:"last_modified"`
}

// SceneDiff records one scene-level before/after delta between two versions.
// An appended scene has Before == "", a removed scene has After == "".
type SceneDiff struct {
	SceneID int    `json:"scene_id"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

// Clone returns a deep copy of scenes. Stored versions are immutable; every
// edit operates on a clone and is persisted as a new version.
func Clone(scenes []Scene) []Scene {
	out := make([]Scene, len(scenes))
	copy(out, scenes)
	for i := range out {
		if len(scenes[i].Variants) > 0 {
			out[i].Variants = append([]string(nil), scenes[i].Variants...)
		}
	}
	return out
}

// Render derives the full script text from a scene list: one line per scene,
// timed as "[start-end s] text", newline-joined.
func Render(scenes []Scene) string {
	lines := make([]string, len(scenes))
	for i, s := range scenes {
		lines[i] = fmt.Sprintf("[%s-%s s] %s", formatSeconds(s.StartSec), formatSeconds(s.EndSec), s.Text)
	}
	return strings.Join(lines, "\n")
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
