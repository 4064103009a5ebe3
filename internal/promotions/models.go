package promotions

import (
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp"
)

var (
	ErrPromotionNotFound = errors.New("promotions: promotion not found")
	ErrNoRecipients      = errors.New("promotions: no eligible recipients")
	ErrSendInProgress    = errors.New("promotions: send already in progress")

	ErrInvalidTestMessage = errors.New("promotions: phone and message are required")
	ErrStoreUnavailable   = errors.New("promotions: database not configured")
)

// Sent message statuses persisted per outcome.
const (
	StatusSent  = "sent"
	StatusError = "error"
)

// Promotion is the subset of a promotion the send flow needs.
type Promotion struct {
	ID            int64
	Title         string
	Description   string
	CategoryID    *int64
	CustomMessage string
	Active        bool
}

// Template returns the custom message, or the default greeting built from
// the title and description.
func (p Promotion) Template() string {
	if p.CustomMessage != "" {
		return p.CustomMessage
	}
	return fmt.Sprintf("¡Hola %s! 📢 %s: %s", whatsapp.NamePlaceholder, p.Title, p.Description)
}

// SendReport summarizes one promotion dispatch.
type SendReport struct {
	BatchID     string                     `json:"batchId"`
	PromotionID int64                      `json:"promotionId"`
	Total       int                        `json:"total"`
	Sent        int                        `json:"sent"`
	Failed      int                        `json:"failed"`
	Outcomes    []whatsapp.DispatchOutcome `json:"outcomes"`
}

// HistoryEntry is one persisted send with its customer and promotion labels.
type HistoryEntry struct {
	ID               int64      `json:"id"`
	CustomerID       *int64     `json:"customerId,omitempty"`
	CustomerName     string     `json:"customerName"`
	CustomerPhone    string     `json:"customerPhone"`
	PromotionID      *int64     `json:"promotionId,omitempty"`
	PromotionTitle   string     `json:"promotionTitle"`
	BatchID          string     `json:"batchId"`
	Message          string     `json:"message"`
	Status           string     `json:"status"`
	GatewayMessageID string     `json:"gatewayMessageId,omitempty"`
	ErrorDetail      string     `json:"errorDetail,omitempty"`
	SentAt           *time.Time `json:"sentAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}
