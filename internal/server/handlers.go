package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"family-custody/internal/metrics"
	"family-custody/internal/models"
	"family-custody/internal/reconcile"
	"family-custody/internal/saga"
	"family-custody/internal/webhook"
)

// errorResponse is the shape of every non-2xx body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// providerEnvelope is the provider's webhook envelope: the event name at the
// top level, event-specific fields nested under data.
type providerEnvelope struct {
	Event string            `json:"event"`
	Data  providerEventData `json:"data"`
}

// providerEventData is the subset of event payloads we act on.
type providerEventData struct {
	WalletID      string `json:"wallet_id"`
	BalanceChange string `json:"balance_change"`
	Asset         string `json:"asset"`
	TxHash        string `json:"transaction_hash"`
}

// checkResponse wraps a reconciliation pass for the manual trigger.
type checkResponse struct {
	Success         bool                       `json:"success"`
	EventsProcessed int                        `json:"eventsProcessed"`
	EventsSkipped   int                        `json:"eventsSkipped"`
	LastBlock       uint64                     `json:"lastBlock"`
	Events          []models.VerificationEvent `json:"events"`
}

func (s *Server) homeHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "family-custody",
		"status":  "running",
	})
}

func (s *Server) createAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req saga.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	result, err := s.creator.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, saga.ErrMissingField) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error().Err(err).Str("childName", req.ChildName).Msg("Account creation failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "account creation failed",
			Message: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) privyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	if !webhook.VerifySignature(body, r.Header.Get("x-privy-signature"), s.webhookSecret) {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		return
	}

	var envelope providerEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	metrics.WebhookEvents.WithLabelValues(envelope.Event).Inc()

	if envelope.Event != "wallet.balance_changed" || !positiveAmount(envelope.Data.BalanceChange) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "ignored": envelope.Event})
		return
	}

	account, err := s.accounts.GetChildAccountByWalletID(envelope.Data.WalletID)
	if err != nil {
		// Deposit to a wallet we never provisioned, nothing to notify.
		s.logger.Warn().
			Str("walletId", envelope.Data.WalletID).
			Msg("Balance change for unknown wallet")
		writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "ignored": "unknown wallet"})
		return
	}

	err = s.emitter.EmitEvent(models.NotificationEvent{
		Type:         models.NotifyDepositReceived,
		ChildAddress: account.ChildAddress,
		WalletID:     envelope.Data.WalletID,
		Amount:       envelope.Data.BalanceChange,
		TxHash:       envelope.Data.TxHash,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("walletId", envelope.Data.WalletID).Msg("Failed to emit deposit notification")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

func (s *Server) checkVerificationsHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.checker.CheckVerifications(r.Context())
	if err != nil {
		if errors.Is(err, reconcile.ErrPassInProgress) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("Manual reconciliation pass failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "reconciliation failed",
			Message: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Success:         true,
		EventsProcessed: result.EventsProcessed,
		EventsSkipped:   result.EventsSkipped,
		LastBlock:       result.LastBlock,
		Events:          result.Events,
	})
}

// positiveAmount reports whether the webhook's decimal string amount is
// strictly positive. Withdrawals arrive with a leading minus.
func positiveAmount(amount string) bool {
	if amount == "" || amount[0] == '-' {
		return false
	}
	for _, c := range amount {
		if c >= '1' && c <= '9' {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
