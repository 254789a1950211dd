package store

import (
	"fmt"

	"botarmy/internal/models"
)

// QueueCounts summarizes an agent's inbox by status.
type QueueCounts struct {
	Todo       int64 `json:"todo"`
	InProgress int64 `json:"inProgress"`
	Done       int64 `json:"done"`
	Failed     int64 `json:"failed"`
}

// AgentQueueCounts reports queue depth per status for one agent.
func (s *Store) AgentQueueCounts(agentID string) (*QueueCounts, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := s.db.Model(&models.Message{}).
		Select("status, count(*) as n").
		Where("to_agent = ?", agentID).
		Group("status").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count agent queue: %w", err)
	}

	counts := &QueueCounts{}
	for _, r := range rows {
		switch r.Status {
		case models.MessageStatusPending:
			counts.Todo = r.N
		case models.MessageStatusProcessing:
			counts.InProgress = r.N
		case models.MessageStatusCompleted:
			counts.Done = r.N
		case models.MessageStatusFailed:
			counts.Failed = r.N
		}
	}
	return counts, nil
}
