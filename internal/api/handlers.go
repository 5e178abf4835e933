package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"

	"github.com/mmynk/pointsledger/internal/service"
)

// response is the JSON envelope for every endpoint.
type response struct {
	service.Outcome
	Data any `json:"data,omitempty"`
}

type settleRequest struct {
	PartialAmount *int64 `json:"partial_amount"`
}

type postingRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type rechargeRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

type entryRequest struct {
	Amount     int64   `json:"amount"`
	Reason     string  `json:"reason"`
	CategoryID *string `json:"category_id"`
}

type categoryRequest struct {
	Name      string `json:"name"`
	Mandatory bool   `json:"mandatory"`
}

func (s *Server) handleGetDebts(w http.ResponseWriter, r *http.Request) {
	debts, err := s.settlement.GetPendingDebts(r.Context(), r.PathValue("account"))
	s.respond(w, http.StatusOK, debts, err)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decode(r, &req, true); err != nil {
		s.respond(w, 0, nil, err)
		return
	}

	res, err := s.settlement.Settle(r.Context(), r.PathValue("entry"), r.PathValue("account"), req.PartialAmount)
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.settlement.Cancel(r.Context(), r.PathValue("entry"), r.PathValue("account"))
	s.respond(w, http.StatusOK, nil, err)
}

func (s *Server) handleSettleMandatory(w http.ResponseWriter, r *http.Request) {
	res, err := s.settlement.SettleAllMandatory(r.Context(), r.PathValue("account"))
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.respond(w, 0, nil, fmt.Errorf("%w: force must be a boolean", service.ErrValidation))
			return
		}
		force = parsed
	}

	res, err := s.settlement.RecomputeBalance(r.Context(), r.PathValue("account"), force)
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if err := decode(r, &req, false); err != nil {
		s.respond(w, 0, nil, err)
		return
	}
	res, err := s.ledger.Credit(r.Context(), r.PathValue("account"), req.Amount, req.Description)
	s.respond(w, http.StatusCreated, res, err)
}

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if err := decode(r, &req, false); err != nil {
		s.respond(w, 0, nil, err)
		return
	}
	res, err := s.ledger.Debit(r.Context(), r.PathValue("account"), req.Amount, req.Description)
	s.respond(w, http.StatusCreated, res, err)
}

func (s *Server) handleRecharge(w http.ResponseWriter, r *http.Request) {
	var req rechargeRequest
	if err := decode(r, &req, false); err != nil {
		s.respond(w, 0, nil, err)
		return
	}
	res, err := s.ledger.Recharge(r.Context(), r.PathValue("account"), req.Amount, req.Note)
	s.respond(w, http.StatusCreated, res, err)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decode(r, &req, false); err != nil {
		s.respond(w, 0, nil, err)
		return
	}
	entry, err := s.ledger.CreateNegativeEntry(r.Context(), r.PathValue("account"), req.Amount, req.Reason, req.CategoryID)
	s.respond(w, http.StatusCreated, entry, err)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decode(r, &req, false); err != nil {
		s.respond(w, 0, nil, err)
		return
	}
	c, err := s.ledger.CreateCategory(r.Context(), req.Name, req.Mandatory)
	s.respond(w, http.StatusCreated, c, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respond writes data with okStatus, or the error's outcome with the status
// matching its kind. A result returned alongside an error, such as a
// partially processed batch, is kept in the error response.
func (s *Server) respond(w http.ResponseWriter, okStatus int, data any, err error) {
	if err != nil {
		resp := response{Outcome: service.OutcomeOf(err)}
		if !isEmpty(data) {
			resp.Data = data
		}
		writeJSON(w, statusFor(service.KindOf(err)), resp)
		return
	}
	writeJSON(w, okStatus, response{Outcome: service.OutcomeOf(nil), Data: data})
}

// isEmpty reports whether v holds no value.
func isEmpty(v any) bool {
	return v == nil || reflect.ValueOf(v).IsZero()
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation, service.KindInvalidAmount:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindAlreadySettled:
		return http.StatusConflict
	case service.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. Unknown fields are rejected. With
// optional, an empty body leaves v untouched.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid request body: %v", service.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
