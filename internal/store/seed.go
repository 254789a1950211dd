package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"botarmy/internal/models"
)

// Seed creates the development test project with a sample task when it does
// not already exist. Safe to run on every startup.
func (s *Store) Seed(projectID string) error {
	if projectID == "" {
		return nil
	}

	_, err := s.GetProject(projectID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	if _, err := s.CreateProjectWithID(projectID, "Test Project", "A test project for development"); err != nil {
		return fmt.Errorf("failed to seed project: %w", err)
	}

	options, _ := json.Marshal([]string{"Acknowledge", "Dismiss"})
	_, err = s.CreateAction(
		projectID,
		"Welcome Task",
		"This is a sample task to demonstrate the interface. Use chat with @agent mentions to interact.",
		models.PriorityLow,
		string(options),
	)
	if err != nil {
		return fmt.Errorf("failed to seed welcome task: %w", err)
	}
	return nil
}
