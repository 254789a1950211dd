// Package store provides SQLite persistence for projects, the agent message
// queue, and human intervention actions.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"botarmy/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the GORM database instance and stamps rows with
// server-assigned, monotonically non-decreasing timestamps.
type Store struct {
	db *gorm.DB

	mu        sync.Mutex
	lastStamp time.Time
}

// Open opens (creating if needed) the SQLite database at path and runs
// migrations. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	err := s.db.AutoMigrate(
		&models.Project{},
		&models.Message{},
		&models.Action{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// stamp returns the next server-assigned timestamp. Timestamps never move
// backwards even if the wall clock does.
func (s *Store) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

// CreateProject creates a new project with a generated id.
func (s *Store) CreateProject(name, requirements string) (*models.Project, error) {
	return s.createProject(uuid.NewString(), name, requirements)
}

// CreateProjectWithID creates a project under a caller-chosen id (used for
// the seeded test project).
func (s *Store) CreateProjectWithID(id, name, requirements string) (*models.Project, error) {
	return s.createProject(id, name, requirements)
}

func (s *Store) createProject(id, name, requirements string) (*models.Project, error) {
	now := s.stamp()
	project := &models.Project{
		ID:           id,
		Name:         name,
		Requirements: requirements,
		Status:       "active",
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.Create(project).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

// GetProject fetches a project by id. Returns ErrNotFound when missing.
func (s *Store) GetProject(id string) (*models.Project, error) {
	var project models.Project
	if err := s.db.First(&project, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &project, nil
}

// AddMessage appends a message to the queue with a server-assigned timestamp
// and pending status.
func (s *Store) AddMessage(projectID, fromAgent, toAgent, messageType, content string, confidence *float64) (*models.Message, error) {
	msg := &models.Message{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		FromAgent:     fromAgent,
		ToAgent:       toAgent,
		MessageType:   messageType,
		Content:       content,
		Status:        models.MessageStatusPending,
		Confidence:    confidence,
		Timestamp:     s.stamp(),
		AttemptNumber: 1,
	}
	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	return msg, nil
}

// RecordChatMessage persists a conversational message with terminal status
// sent. Chat rows are kept for history and log rendering but never enter the
// pipeline queue, so a drain cannot claim and fail them.
func (s *Store) RecordChatMessage(projectID, fromAgent, toAgent, messageType, content string) (*models.Message, error) {
	msg := &models.Message{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		FromAgent:     fromAgent,
		ToAgent:       toAgent,
		MessageType:   messageType,
		Content:       content,
		Status:        models.MessageStatusSent,
		Timestamp:     s.stamp(),
		AttemptNumber: 1,
	}
	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to record chat message: %w", err)
	}
	return msg, nil
}

// PendingMessages returns pending queue rows for an agent in timestamp order.
// An empty agentID returns all pending messages.
func (s *Store) PendingMessages(agentID string) ([]models.Message, error) {
	q := s.db.Where("status = ?", models.MessageStatusPending)
	if agentID != "" {
		q = q.Where("to_agent = ?", agentID)
	}
	var msgs []models.Message
	if err := q.Order("timestamp ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	return msgs, nil
}

// UpdateMessageStatus transitions a queue row to a new status.
func (s *Store) UpdateMessageStatus(id, status string) error {
	res := s.db.Model(&models.Message{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update message status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementMessageAttempt bumps the attempt counter and resets the row to
// pending for a retry.
func (s *Store) IncrementMessageAttempt(id string) error {
	err := s.db.Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_number": gorm.Expr("attempt_number + 1"),
			"status":         models.MessageStatusPending,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to increment message attempt: %w", err)
	}
	return nil
}

// ProjectMessages returns the newest messages for a project, newest first.
func (s *Store) ProjectMessages(projectID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []models.Message
	err := s.db.Where("project_id = ?", projectID).
		Order("timestamp DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list project messages: %w", err)
	}
	return msgs, nil
}

// RecentMessages returns the newest messages across all projects.
func (s *Store) RecentMessages(limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var msgs []models.Message
	err := s.db.Order("timestamp DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	return msgs, nil
}

// MessagesSince returns project messages newer than t in timestamp order,
// used by the project event stream.
func (s *Store) MessagesSince(projectID string, t time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.Where("project_id = ? AND timestamp > ?", projectID, t).
		Order("timestamp ASC").Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages since %s: %w", t, err)
	}
	return msgs, nil
}

// CreateAction records a pending human intervention.
func (s *Store) CreateAction(projectID, title, description, priority, options string) (*models.Action, error) {
	action := &models.Action{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      models.ActionStatusPending,
		Options:     options,
		CreatedAt:   s.stamp(),
	}
	if err := s.db.Create(action).Error; err != nil {
		return nil, fmt.Errorf("failed to create action: %w", err)
	}
	return action, nil
}

// PendingActions returns pending actions for a project, newest first.
func (s *Store) PendingActions(projectID string) ([]models.Action, error) {
	var actions []models.Action
	err := s.db.Where("project_id = ? AND status = ?", projectID, models.ActionStatusPending).
		Order("created_at DESC").Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}
	return actions, nil
}

// GlobalPendingActions returns pending actions across all projects ordered
// high > medium > low, oldest first within a priority band.
func (s *Store) GlobalPendingActions(limit int) ([]models.Action, error) {
	if limit <= 0 {
		limit = 50
	}
	var actions []models.Action
	err := s.db.Where("status = ?", models.ActionStatusPending).
		Order("CASE priority WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, created_at ASC").
		Limit(limit).Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list global actions: %w", err)
	}
	return actions, nil
}

// ActionsSince returns project actions created after t in creation order.
func (s *Store) ActionsSince(projectID string, t time.Time) ([]models.Action, error) {
	var actions []models.Action
	err := s.db.Where("project_id = ? AND created_at > ?", projectID, t).
		Order("created_at ASC").Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list actions since %s: %w", t, err)
	}
	return actions, nil
}

// ResolveAction marks an action resolved with the human response.
func (s *Store) ResolveAction(id, response string) error {
	now := s.stamp()
	res := s.db.Model(&models.Action{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.ActionStatusResolved,
			"response":    response,
			"resolved_at": &now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to resolve action: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingMessageCount reports the current queue depth.
func (s *Store) PendingMessageCount() (int64, error) {
	var n int64
	err := s.db.Model(&models.Message{}).
		Where("status = ?", models.MessageStatusPending).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return n, nil
}

// Health checks database connectivity.
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
