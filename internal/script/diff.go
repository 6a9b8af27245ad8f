package script

// Diff computes scene-level deltas between two snapshots by walking both
// lists positionally up to max(len(old), len(new)). Scenes are rarely
// reordered in practice, so no edit-distance matching is attempted.
func Diff(oldScenes, newScenes []Scene) []SceneDiff {
	var diffs []SceneDiff

	n := len(oldScenes)
	if len(newScenes) > n {
		n = len(newScenes)
	}

	for i := 0; i < n; i++ {
		switch {
		case i >= len(oldScenes):
			diffs = append(diffs, SceneDiff{
				SceneID: sceneID(newScenes[i], i),
				Before:  "",
				After:   newScenes[i].Text,
			})
		case i >= len(newScenes):
			diffs = append(diffs, SceneDiff{
				SceneID: sceneID(oldScenes[i], i),
				Before:  oldScenes[i].Text,
				After:   "",
			})
		case oldScenes[i].Text != newScenes[i].Text:
			diffs = append(diffs, SceneDiff{
				SceneID: sceneID(newScenes[i], i),
				Before:  oldScenes[i].Text,
				After:   newScenes[i].Text,
			})
		}
	}

	return diffs
}

// sceneID prefers the scene's own number, falling back to the 1-indexed
// position when unset.
func sceneID(s Scene, index int) int {
	if s.SceneNumber > 0 {
		return s.SceneNumber
	}
	return index + 1
}
