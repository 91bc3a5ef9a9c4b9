package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/fusion/internal/model"
)

// AutomationExecution is the accounting row for one firing. It is written
// as running before any action starts, so a crash mid-run leaves evidence.
type AutomationExecution struct {
	ID                uuid.UUID              `json:"id"`
	AutomationID      uuid.UUID              `json:"automation_id"`
	OrganizationID    uuid.UUID              `json:"organization_id"`
	TriggerEventID    *uuid.UUID             `json:"trigger_event_id,omitempty"`
	TriggerContext    map[string]interface{} `json:"trigger_context,omitempty"`
	Status            model.ExecutionStatus  `json:"status"`
	TotalActions      int                    `json:"total_actions"`
	SuccessfulActions int                    `json:"successful_actions"`
	FailedActions     int                    `json:"failed_actions"`
	DurationMs        *int64                 `json:"duration_ms,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        *time.Time             `json:"finished_at,omitempty"`
}

type ActionExecution struct {
	ID           uuid.UUID          `json:"id"`
	ExecutionID  uuid.UUID          `json:"execution_id"`
	ActionIndex  int                `json:"action_index"`
	ActionType   model.ActionType   `json:"action_type"`
	ActionParams json.RawMessage    `json:"action_params,omitempty"`
	Status       model.ActionStatus `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	RetryCount   int                `json:"retry_count"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
	DurationMs   *int64             `json:"duration_ms,omitempty"`
}

type ExecutionModel struct {
	DB DBTX
}

func (m ExecutionModel) Create(ctx context.Context, e *AutomationExecution) error {
	trigCtx, err := json.Marshal(e.TriggerContext)
	if err != nil {
		return err
	}
	if e.Status == "" {
		e.Status = model.ExecutionRunning
	}

	query := `
		INSERT INTO automation_executions (
			automation_id, organization_id, trigger_event_id, trigger_context,
			status, total_actions
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, started_at`

	return m.DB.QueryRowContext(ctx, query,
		e.AutomationID, e.OrganizationID, e.TriggerEventID, trigCtx, e.Status, e.TotalActions,
	).Scan(&e.ID, &e.StartedAt)
}

// Finalize records the terminal status and counters for an execution.
func (m ExecutionModel) Finalize(ctx context.Context, id uuid.UUID, status model.ExecutionStatus, successful, failed int, durationMs int64) error {
	query := `
		UPDATE automation_executions
		SET status = $1, successful_actions = $2, failed_actions = $3,
		    duration_ms = $4, finished_at = NOW()
		WHERE id = $5`

	res, err := m.DB.ExecContext(ctx, query, status, successful, failed, durationMs, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m ExecutionModel) GetByID(ctx context.Context, orgID, id uuid.UUID) (*AutomationExecution, error) {
	query := `
		SELECT id, automation_id, organization_id, trigger_event_id, trigger_context,
		       status, total_actions, successful_actions, failed_actions, duration_ms,
		       started_at, finished_at
		FROM automation_executions
		WHERE organization_id = $1 AND id = $2`

	e, err := scanExecution(m.DB.QueryRowContext(ctx, query, orgID, id))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (m ExecutionModel) ListByAutomation(ctx context.Context, orgID, automationID uuid.UUID, limit int) ([]AutomationExecution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, automation_id, organization_id, trigger_event_id, trigger_context,
		       status, total_actions, successful_actions, failed_actions, duration_ms,
		       started_at, finished_at
		FROM automation_executions
		WHERE organization_id = $1 AND automation_id = $2
		ORDER BY started_at DESC
		LIMIT $3`

	rows, err := m.DB.QueryContext(ctx, query, orgID, automationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AutomationExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (m ExecutionModel) CreateAction(ctx context.Context, a *ActionExecution) error {
	if a.Status == "" {
		a.Status = model.ActionStatusRunning
	}

	query := `
		INSERT INTO automation_action_executions (
			execution_id, action_index, action_type, action_params, status, retry_count
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, started_at`

	var params []byte
	if len(a.ActionParams) > 0 {
		params = []byte(a.ActionParams)
	}
	return m.DB.QueryRowContext(ctx, query,
		a.ExecutionID, a.ActionIndex, a.ActionType, params, a.Status, a.RetryCount,
	).Scan(&a.ID, &a.StartedAt)
}

// FinishAction records the terminal status of one action attempt.
func (m ExecutionModel) FinishAction(ctx context.Context, id uuid.UUID, status model.ActionStatus, errMsg string, durationMs int64) error {
	query := `
		UPDATE automation_action_executions
		SET status = $1, error_message = NULLIF($2, ''), duration_ms = $3, finished_at = NOW()
		WHERE id = $4`

	res, err := m.DB.ExecContext(ctx, query, status, errMsg, durationMs, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m ExecutionModel) ListActions(ctx context.Context, executionID uuid.UUID) ([]ActionExecution, error) {
	query := `
		SELECT id, execution_id, action_index, action_type, action_params, status,
		       error_message, retry_count, started_at, finished_at, duration_ms
		FROM automation_action_executions
		WHERE execution_id = $1
		ORDER BY action_index`

	rows, err := m.DB.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionExecution
	for rows.Next() {
		var a ActionExecution
		var params []byte
		var errMsg sql.NullString
		var finishedAt sql.NullTime
		var durationMs sql.NullInt64

		err := rows.Scan(
			&a.ID, &a.ExecutionID, &a.ActionIndex, &a.ActionType, &params, &a.Status,
			&errMsg, &a.RetryCount, &a.StartedAt, &finishedAt, &durationMs,
		)
		if err != nil {
			return nil, err
		}
		a.ActionParams = params
		if errMsg.Valid {
			a.ErrorMessage = errMsg.String
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			a.FinishedAt = &t
		}
		if durationMs.Valid {
			v := durationMs.Int64
			a.DurationMs = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanExecution(row rowScanner) (*AutomationExecution, error) {
	var e AutomationExecution
	var trigEventID uuid.NullUUID
	var trigCtx []byte
	var durationMs sql.NullInt64
	var finishedAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.AutomationID, &e.OrganizationID, &trigEventID, &trigCtx,
		&e.Status, &e.TotalActions, &e.SuccessfulActions, &e.FailedActions, &durationMs,
		&e.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if trigEventID.Valid {
		v := trigEventID.UUID
		e.TriggerEventID = &v
	}
	if len(trigCtx) > 0 {
		if err := json.Unmarshal(trigCtx, &e.TriggerContext); err != nil {
			return nil, err
		}
	}
	if durationMs.Valid {
		v := durationMs.Int64
		e.DurationMs = &v
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		e.FinishedAt = &t
	}
	return &e, nil
}
