package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

// ItemRequest addresses one queue item.
type ItemRequest struct {
	ItemID string `json:"item_id"`
}

// ListRequest filters ListItems.
type ListRequest struct {
	Statuses       []constants.QueueStatus `json:"statuses,omitempty"`
	RequiresReview *bool                   `json:"requires_review,omitempty"`
	FilePath       string                  `json:"file_path,omitempty"`
	Limit          int                     `json:"limit,omitempty"`
}

type ListResponse struct {
	Items []entity.QueueItem `json:"items"`
}

// ExportRequest selects the exported items. From and To are YYYY-MM-DD.
type ExportRequest struct {
	Statuses []constants.QueueStatus `json:"statuses,omitempty"`
	From     string                  `json:"from,omitempty"`
	To       string                  `json:"to,omitempty"`
}

// encode turns any JSON-serializable value into a Struct.
func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return structpb.NewStruct(m)
}

// decode fills v from a Struct. Unknown keys are an input error.
func decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	return nil
}

func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", common.ErrInvalidInput, s)
	}
	return &t, nil
}
