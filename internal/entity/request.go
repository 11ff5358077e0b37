package entity

import (
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-intake/constants"
)

// ProcessRequest asks the pipeline to classify one ready file.
type ProcessRequest struct {
	FilePath         string `json:"file_path"`
	CallingAppID     string `json:"calling_app_id"`
	DocumentTypeHint string `json:"document_type_hint,omitempty"`
	VendorHint       string `json:"vendor_hint,omitempty"`
	Attempt          int    `json:"attempt,omitempty"`
}

// SubmitAck acknowledges an asynchronous submission.
type SubmitAck struct {
	ItemID uuid.UUID             `json:"item_id"`
	Status constants.QueueStatus `json:"status"`
}
