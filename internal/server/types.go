package server

import (
	"time"

	"github.com/rezonia/nfe-collector/internal/outbox"
)

// DeadLetterResponse is the API shape of a dead-lettered item. The
// payload is only included on the single-item endpoint.
type DeadLetterResponse struct {
	ID           string     `json:"id"`
	AccessKey    string     `json:"access_key"`
	DocumentType string     `json:"document_type"`
	SourceFile   string     `json:"source_file"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	Payload      string     `json:"payload,omitempty"`
}

func toDeadLetterResponse(item outbox.QueueItem, includePayload bool) DeadLetterResponse {
	r := DeadLetterResponse{
		ID:           item.ID,
		AccessKey:    item.AccessKey,
		DocumentType: item.DocumentType,
		SourceFile:   item.SourceFile,
		Attempts:     item.Attempts,
		LastError:    item.LastError,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
		SentAt:       item.SentAt,
	}
	if includePayload {
		r.Payload = item.Payload
	}
	return r
}
