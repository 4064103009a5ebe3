package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	httpmiddleware "github.com/wolfman30/loyalty-whatsapp/internal/http/middleware"
	"github.com/wolfman30/loyalty-whatsapp/internal/promotions"
	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp"
	"github.com/wolfman30/loyalty-whatsapp/pkg/logging"
)

const maxHistoryLimit = 500

// ConnectionManager is the connection lifecycle the operator endpoints drive.
type ConnectionManager interface {
	Initialize(ctx context.Context) bool
	Disconnect()
	Status() whatsapp.ConnectionState
	IngestWebhook(raw []byte) string
}

// PromotionSender runs promotion and test sends and lists the send history.
type PromotionSender interface {
	SendPromotion(ctx context.Context, id int64) (*promotions.SendReport, error)
	SendTest(ctx context.Context, phone, text string) (whatsapp.DispatchOutcome, error)
	History(ctx context.Context, limit int) ([]promotions.HistoryEntry, error)
}

// WhatsAppHandler serves the operator endpoints under /whatsapp and the
// gateway webhook.
type WhatsAppHandler struct {
	manager         ConnectionManager
	sender          PromotionSender
	logger          *logging.Logger
	maxWebhookBytes int64
}

type WhatsAppConfig struct {
	Manager         ConnectionManager
	Sender          PromotionSender
	Logger          *logging.Logger
	MaxWebhookBytes int64
}

func NewWhatsAppHandler(cfg WhatsAppConfig) *WhatsAppHandler {
	if cfg.Manager == nil {
		panic("handlers: whatsapp manager cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MaxWebhookBytes <= 0 {
		cfg.MaxWebhookBytes = 1 << 20
	}
	return &WhatsAppHandler{
		manager:         cfg.Manager,
		sender:          cfg.Sender,
		logger:          cfg.Logger,
		maxWebhookBytes: cfg.MaxWebhookBytes,
	}
}

type messageResponse struct {
	Success bool                      `json:"success"`
	Message string                    `json:"message"`
	State   *whatsapp.ConnectionState `json:"state,omitempty"`
}

// Connect starts (or restarts) the connection flow. It returns as soon as the
// instance is open or a QR code is available.
func (h *WhatsAppHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ok := h.manager.Initialize(r.Context())
	state := h.manager.Status()
	if !ok {
		writeJSON(w, http.StatusBadGateway, messageResponse{Success: false, Message: defaultString(state.Message, "WhatsApp could not be initialized"), State: &state})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Starting WhatsApp connection...", State: &state})
}

func (h *WhatsAppHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

func (h *WhatsAppHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.manager.Disconnect()
	state := h.manager.Status()
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "WhatsApp disconnected", State: &state})
}

type sendPromotionRequest struct {
	PromotionID int64 `json:"promotion_id"`
}

type sendPromotionResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Report  *promotions.SendReport `json:"report,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// SendPromotion dispatches a promotion to every eligible customer. The batch
// keeps running if the client goes away.
func (h *WhatsAppHandler) SendPromotion(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "promotion sends not configured")
		return
	}
	var req sendPromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.PromotionID <= 0 {
		writeError(w, http.StatusBadRequest, "promotion_id is required")
		return
	}

	operator, _ := httpmiddleware.OperatorFromContext(r.Context())
	h.logger.Info("promotion send requested", "promotion_id", req.PromotionID, "operator", defaultString(operator, "anonymous"))

	report, err := h.sender.SendPromotion(context.WithoutCancel(r.Context()), req.PromotionID)
	if err != nil {
		status, message := promotionErrorStatus(err)
		if report != nil {
			h.logger.Error("promotion sent but not recorded", "promotion_id", req.PromotionID, "error", err)
			writeJSON(w, status, sendPromotionResponse{Success: false, Message: message, Report: report, Error: err.Error()})
			return
		}
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, sendPromotionResponse{
		Success: true,
		Message: fmt.Sprintf("Promotion sent. %d messages sent, %d failed.", report.Sent, report.Failed),
		Report:  report,
	})
}

type sendTestRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendTestResponse struct {
	Success bool                     `json:"success"`
	Outcome whatsapp.DispatchOutcome `json:"outcome"`
}

// SendTest sends one ad-hoc message, typically to the operator's own phone.
func (h *WhatsAppHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "test sends not configured")
		return
	}
	var req sendTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	outcome, err := h.sender.SendTest(r.Context(), strings.TrimSpace(req.Phone), strings.TrimSpace(req.Message))
	if err != nil {
		status, message := promotionErrorStatus(err)
		writeError(w, status, message)
		return
	}
	status := http.StatusOK
	if !outcome.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, sendTestResponse{Success: outcome.Success, Outcome: outcome})
}

type historyResponse struct {
	Messages []promotions.HistoryEntry `json:"messages"`
}

func (h *WhatsAppHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}
	entries, err := h.sender.History(r.Context(), limit)
	if err != nil {
		status, message := promotionErrorStatus(err)
		writeError(w, status, message)
		return
	}
	if entries == nil {
		entries = []promotions.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: entries})
}

func promotionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, whatsapp.ErrNotConnected):
		return http.StatusConflict, "WhatsApp is not connected. Connect first and wait for the connection to be established."
	case errors.Is(err, promotions.ErrSendInProgress):
		return http.StatusConflict, "This promotion is already being sent."
	case errors.Is(err, promotions.ErrPromotionNotFound):
		return http.StatusNotFound, "Promotion not found"
	case errors.Is(err, promotions.ErrNoRecipients):
		return http.StatusUnprocessableEntity, "No customers accepting promotions are available for this promotion."
	case errors.Is(err, promotions.ErrInvalidTestMessage):
		return http.StatusBadRequest, "phone and message are required"
	case errors.Is(err, promotions.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "database not configured"
	default:
		return http.StatusInternalServerError, "server error"
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

type healthResponse struct {
	Status   string          `json:"status"`
	WhatsApp whatsapp.Status `json:"whatsapp"`
}

// Health reports liveness and the current connection status.
func (h *WhatsAppHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", WhatsApp: h.manager.Status().Status})
}
