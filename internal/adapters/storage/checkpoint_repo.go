package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// CheckpointModel stores one workflow step. Rows are append-only per thread.
type CheckpointModel struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	ThreadID  string    `gorm:"column:thread_id;index:idx_checkpoint_thread_step"`
	RunID     string    `gorm:"column:run_id"`
	Step      int       `gorm:"column:step;index:idx_checkpoint_thread_step"`
	Completed string    `gorm:"column:completed"`
	Next      string    `gorm:"column:next"`
	StateJSON string    `gorm:"column:state_json"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (CheckpointModel) TableName() string { return "workflow_checkpoints" }

// SaveCheckpoint appends a checkpoint for the thread.
func (a *SQLiteAdapter) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}
	m := CheckpointModel{
		ThreadID:  cp.ThreadID,
		RunID:     cp.RunID,
		Step:      cp.Step,
		Completed: string(cp.Completed),
		Next:      string(cp.Next),
		StateJSON: string(state),
		CreatedAt: utc(cp.CreatedAt),
	}
	if err := a.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("save checkpoint %s step %d: %w", cp.ThreadID, cp.Step, classify(err))
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint of the thread.
func (a *SQLiteAdapter) LatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	var m CheckpointModel
	err := a.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(classify(err), ErrNotFound) {
			return nil, ports.ErrCheckpointNotFound
		}
		return nil, classify(err)
	}

	cp := domain.Checkpoint{
		ThreadID:  m.ThreadID,
		RunID:     m.RunID,
		Step:      m.Step,
		Completed: domain.Stage(m.Completed),
		Next:      domain.Stage(m.Next),
		CreatedAt: m.CreatedAt,
	}
	if err := json.Unmarshal([]byte(m.StateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &cp, nil
}

// DeleteCheckpoints removes every checkpoint of the thread.
func (a *SQLiteAdapter) DeleteCheckpoints(ctx context.Context, threadID string) error {
	return classify(a.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&CheckpointModel{}).Error)
}
