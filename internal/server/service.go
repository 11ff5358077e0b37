package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/export"
	"github.com/joseph-ayodele/receipts-intake/internal/pipeline"
	"github.com/joseph-ayodele/receipts-intake/internal/repository"
)

// Pipeline is the part of pipeline.Service exposed over gRPC.
type Pipeline interface {
	ProcessDocument(ctx context.Context, req entity.ProcessRequest) (entity.QueueItem, error)
	SubmitDocument(ctx context.Context, req entity.ProcessRequest) (entity.SubmitAck, error)
	CompleteReview(ctx context.Context, req pipeline.ReviewRequest) (entity.FinalRecord, error)
	CancelItem(ctx context.Context, id uuid.UUID) (entity.QueueItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (entity.QueueItem, error)
	ListItems(ctx context.Context, f repository.QueueFilter) ([]entity.QueueItem, error)
}

type Exporter interface {
	ExportItemsXLSX(ctx context.Context, filter export.Filter) ([]byte, error)
}

var _ Pipeline = (*pipeline.Service)(nil)

type IntakeService struct {
	pipeline Pipeline
	exporter Exporter
	logger   *slog.Logger
}

var _ IntakeServer = (*IntakeService)(nil)

func NewIntakeService(p Pipeline, exp Exporter, logger *slog.Logger) *IntakeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeService{pipeline: p, exporter: exp, logger: logger}
}

// ProcessDocument implements IntakeServer. The reply is the routed QueueItem:
// status, classification, confidence with breakdown, routing, extracted
// fields, line items and raw OCR text.
func (s *IntakeService) ProcessDocument(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req entity.ProcessRequest
	if err := decode(in, &req); err != nil {
		return nil, common.ToStatus(err)
	}
	item, err := s.pipeline.ProcessDocument(ctx, req)
	if err != nil {
		s.logger.Warn("process document failed", "file_path", req.FilePath, "error", err)
		return nil, common.ToStatus(err)
	}
	return s.reply(item)
}

func (s *IntakeService) SubmitDocument(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req entity.ProcessRequest
	if err := decode(in, &req); err != nil {
		return nil, common.ToStatus(err)
	}
	ack, err := s.pipeline.SubmitDocument(ctx, req)
	if err != nil {
		s.logger.Warn("submit document failed", "file_path", req.FilePath, "error", err)
		return nil, common.ToStatus(err)
	}
	return s.reply(ack)
}

func (s *IntakeService) CompleteReview(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pipeline.ReviewRequest
	if err := decode(in, &req); err != nil {
		return nil, common.ToStatus(err)
	}
	rec, err := s.pipeline.CompleteReview(ctx, req)
	if err != nil {
		s.logger.Warn("complete review failed", "item_id", req.ItemID, "error", err)
		return nil, common.ToStatus(err)
	}
	return s.reply(rec)
}

func (s *IntakeService) CancelItem(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := itemID(in)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	item, err := s.pipeline.CancelItem(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return s.reply(item)
}

func (s *IntakeService) GetItem(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := itemID(in)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	item, err := s.pipeline.GetItem(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return s.reply(item)
}

func (s *IntakeService) ListItems(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListRequest
	if err := decode(in, &req); err != nil {
		return nil, common.ToStatus(err)
	}
	items, err := s.pipeline.ListItems(ctx, repository.QueueFilter{
		Statuses:       req.Statuses,
		RequiresReview: req.RequiresReview,
		FilePath:       req.FilePath,
		Limit:          req.Limit,
	})
	if err != nil {
		return nil, common.ToStatus(err)
	}
	if items == nil {
		items = []entity.QueueItem{}
	}
	return s.reply(ListResponse{Items: items})
}

func (s *IntakeService) ExportItems(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	if s.exporter == nil {
		return nil, common.ToStatus(fmt.Errorf("%w: export is not configured", common.ErrServiceUnavailable))
	}
	var req ExportRequest
	if err := decode(in, &req); err != nil {
		return nil, common.ToStatus(err)
	}
	if err := common.NewValidator().
		Field("from", req.From, common.ISODate).
		Field("to", req.To, common.ISODate).
		Error(); err != nil {
		return nil, common.ToStatus(fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
	}
	from, err := parseDay(req.From)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	to, err := parseDay(req.To)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	xlsx, err := s.exporter.ExportItemsXLSX(ctx, export.Filter{Statuses: req.Statuses, From: from, To: to})
	if err != nil {
		s.logger.Error("export failed", "error", err)
		return nil, common.ToStatus(err)
	}
	return wrapperspb.Bytes(xlsx), nil
}

func (s *IntakeService) reply(v any) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		s.logger.Error("failed to encode reply", "error", err)
		return nil, common.ToStatus(err)
	}
	return out, nil
}

func itemID(in *structpb.Struct) (uuid.UUID, error) {
	var req ItemRequest
	if err := decode(in, &req); err != nil {
		return uuid.Nil, err
	}
	if err := common.NewValidator().Field("item_id", req.ItemID, common.Required, common.UUID).Error(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	return uuid.MustParse(req.ItemID), nil
}
