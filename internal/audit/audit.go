// Package audit is the ambient structured-activity log: who did what, when.
// Not a spec Non-goal (logging is an ambient concern carried regardless),
// kept and adapted from the teacher's pkg/audit/service.go with uuid ids
// swapped for the store's int64 ids.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type LogEntry struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Action       string          `json:"action"`
	RepositoryID *int64          `json:"repository_id,omitempty"`
	Details      json.RawMessage `json:"details"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Log records an audit event. Failure is never fatal to the request that
// triggered it; callers should log.Printf and continue, not propagate.
func (s *Service) Log(ctx context.Context, userID int64, action string, repositoryID *int64, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		detailsJSON = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, repository_id, details, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)`,
		userID, action, repositoryID, detailsJSON)
	return err
}

func (s *Service) GetUserLogs(ctx context.Context, userID int64, limit int) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, repository_id, details, created_at
		FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.RepositoryID, &l.Details, &l.CreatedAt); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
