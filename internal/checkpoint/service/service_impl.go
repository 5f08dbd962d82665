package service

import (
	"context"
	"strings"
	"time"

	checkpointdomain "github.com/Phillboard/mobul-sub000/internal/checkpoint/domain"
	"github.com/Phillboard/mobul-sub000/internal/masking"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  checkpointdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  checkpointdomain.Repository
}

func NewService(p Params) checkpointdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("checkpoint.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// Append writes one step checkpoint. A failed write degrades the audit
// trail, not the request: the error is logged and dropped.
func (s *Service) Append(ctx context.Context, requestID, step string, status checkpointdomain.CheckpointStatus, errorCode string, detail map[string]any) {
	requestID = strings.TrimSpace(requestID)
	step = strings.TrimSpace(step)
	if requestID == "" || step == "" {
		s.log.Warn("checkpoint dropped: missing request id or step",
			zap.String("request_id", requestID),
			zap.String("step", step),
		)
		return
	}

	cp := checkpointdomain.Checkpoint{
		ID:        s.genID.Generate(),
		RequestID: requestID,
		Step:      step,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if code := strings.TrimSpace(errorCode); code != "" {
		cp.ErrorCode = &code
	}
	if scrubbed := masking.MaskSensitiveKeys(detail); scrubbed != nil {
		cp.Detail = datatypes.JSONMap(scrubbed)
	}

	if err := s.repo.Insert(ctx, s.db, &cp); err != nil {
		s.log.Warn("failed to write provision checkpoint",
			zap.String("request_id", requestID),
			zap.String("step", step),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (s *Service) Trail(ctx context.Context, requestID string) ([]checkpointdomain.Checkpoint, error) {
	return s.repo.ListByRequest(ctx, s.db, requestID)
}
