package reanalysis

import (
	"errors"
	"fmt"

	"github.com/reeldraft/reeldraft/internal/storage"
)

// Choices for resolving a pending candidate.
const (
	ChoiceBase      = "base"
	ChoiceCandidate = "candidate"
)

// ErrInvalidChoice is returned when Choose is given anything but "base" or
// "candidate".
var ErrInvalidChoice = errors.New(`choice must be "base" or "candidate"`)

// Choose resolves a pending candidate: "candidate" promotes it to current,
// "base" deletes it along with its recommendations. Both require the project
// to have a current version and a candidate.
func (m *Manager) Choose(projectID, keep string) error {
	if keep != ChoiceBase && keep != ChoiceCandidate {
		return fmt.Errorf("%w: got %q", ErrInvalidChoice, keep)
	}

	if _, err := m.store.CurrentVersion(projectID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNoCurrentVersion
		}
		return fmt.Errorf("loading current version: %w", err)
	}

	if keep == ChoiceCandidate {
		promoted, err := m.store.PromoteCandidate(projectID)
		if err != nil {
			return err
		}
		m.logger.Info("candidate promoted",
			"project_id", projectID, "version", promoted.VersionNumber)
		return nil
	}

	if err := m.store.DeleteCandidate(projectID); err != nil {
		return err
	}
	m.logger.Info("candidate discarded", "project_id", projectID)
	return nil
}

// CancelCandidate discards the pending candidate, equivalent to choosing
// "base" without knowing the candidate id.
func (m *Manager) CancelCandidate(projectID string) error {
	return m.Choose(projectID, ChoiceBase)
}
