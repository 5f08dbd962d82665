package repository

import (
	"context"
	"strings"

	"github.com/Phillboard/mobul-sub000/internal/checkpoint/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cp *domain.Checkpoint) error {
	if cp == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO provision_checkpoints (
			id, request_id, step, status, error_code, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID,
		cp.RequestID,
		cp.Step,
		cp.Status,
		cp.ErrorCode,
		cp.Detail,
		cp.CreatedAt,
	).Error
}

func (r *repo) ListByRequest(ctx context.Context, db *gorm.DB, requestID string) ([]domain.Checkpoint, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, domain.ErrInvalidRequestID
	}

	var checkpoints []domain.Checkpoint
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at asc, id asc").
		Find(&checkpoints).Error
	if err != nil {
		return nil, err
	}
	return checkpoints, nil
}
