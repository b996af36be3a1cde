package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/betbot/copybot/internal/domain"
)

type activateRequest struct {
	MasterID             string  `json:"master_id"`
	AllocationType       string  `json:"allocation_type"`
	AllocationValue      float64 `json:"allocation_value"`
	AllocationPercentage float64 `json:"allocation_percentage"`
	Leverage             string  `json:"leverage"`
	StopLoss             float64 `json:"stop_loss"`
	TakeProfit           float64 `json:"take_profit"`
	Token                string  `json:"token,omitempty"`
	Balance              float64 `json:"balance,omitempty"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	followerID := pathParam(r, "followerID")
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	req.MasterID = strings.TrimSpace(req.MasterID)
	if req.MasterID == "" {
		writeError(w, 400, "master_id is required")
		return
	}
	switch domain.AllocationType(req.AllocationType) {
	case domain.AllocationFixed, domain.AllocationProportional, "":
	default:
		writeError(w, 400, "allocation_type must be fixed or proportional")
		return
	}

	ctx := r.Context()
	if req.Token != "" {
		if err := s.secrets.SetToken(followerID, req.Token); err != nil {
			writeError(w, 500, err.Error())
			return
		}
	}
	if req.Balance > 0 {
		if err := s.store.SetFollowerBalance(ctx, followerID, req.Balance, ""); err != nil {
			writeError(w, 500, err.Error())
			return
		}
	}

	cfg := domain.FollowerConfig{
		MasterID:             req.MasterID,
		AllocationType:       domain.AllocationType(req.AllocationType),
		AllocationValue:      req.AllocationValue,
		AllocationPercentage: req.AllocationPercentage,
		Leverage:             req.Leverage,
		StopLoss:             req.StopLoss,
		TakeProfit:           req.TakeProfit,
	}
	sess, err := s.tracker.Activate(ctx, followerID, cfg)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": sessionView(sess)})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	followerID := pathParam(r, "followerID")
	if err := s.tracker.Pause(r.Context(), followerID); err != nil {
		writeError(w, 409, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	followerID := pathParam(r, "followerID")
	sess, err := s.tracker.Resume(r.Context(), followerID)
	if err != nil {
		writeError(w, 409, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"session": sessionView(sess)})
}

type deactivateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	followerID := pathParam(r, "followerID")
	var req deactivateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = domain.EndReasonManual
	}

	ctx := r.Context()
	if sess, err := s.store.GetLiveSession(ctx, followerID); err != nil {
		writeError(w, 500, err.Error())
		return
	} else if sess != nil {
		if err := s.store.EndSession(ctx, sess.ID, req.Reason); err != nil {
			writeError(w, 500, err.Error())
			return
		}
	}
	if err := s.tracker.Deactivate(ctx, followerID, req.Reason); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	followerID := pathParam(r, "followerID")
	sess, err := s.tracker.GetActiveSession(r.Context(), followerID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if sess == nil {
		writeError(w, 404, "no live session")
		return
	}
	writeJSON(w, 200, map[string]any{"session": sessionView(sess)})
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	followerID := pathParam(r, "followerID")
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, 400, "token is required")
		return
	}
	if err := s.secrets.SetToken(followerID, req.Token); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	followerID := pathParam(r, "followerID")
	if err := s.secrets.DeleteToken(followerID); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

type balanceRequest struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	followerID := pathParam(r, "followerID")
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	if req.Balance < 0 {
		writeError(w, 400, "balance cannot be negative")
		return
	}
	if err := s.store.SetFollowerBalance(r.Context(), followerID, req.Balance, req.Currency); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (s *Server) handleGetCopiers(w http.ResponseWriter, r *http.Request) {
	masterID := pathParam(r, "masterID")
	copiers, err := s.engine.GetCopiers(r.Context(), masterID)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(copiers))
	for _, cp := range copiers {
		out = append(out, map[string]any{
			"follower_id":     cp.FollowerID,
			"master_id":       cp.MasterID,
			"allocation_type": cp.AllocationType,
			"leverage":        cp.Leverage,
			"balance":         cp.Balance,
			"has_token":       cp.HasToken,
		})
	}
	writeJSON(w, 200, map[string]any{"master_id": masterID, "copiers": out})
}

type aliasRequest struct {
	AliasID string `json:"alias_id"`
}

func (s *Server) handleAddAlias(w http.ResponseWriter, r *http.Request) {
	masterID := pathParam(r, "masterID")
	var req aliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.AliasID) == "" {
		writeError(w, 400, "alias_id is required")
		return
	}
	if err := s.store.AddMasterAlias(r.Context(), strings.TrimSpace(req.AliasID), masterID); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

type masterOrderRequest struct {
	OperationID   string  `json:"operation_id"`
	MasterID      string  `json:"master_id"`
	Instrument    string  `json:"instrument"`
	ContractType  string  `json:"contract_type"`
	Duration      int     `json:"duration"`
	DurationUnit  string  `json:"duration_unit"`
	Barrier       string  `json:"barrier"`
	Stake         float64 `json:"stake"`
	MasterBalance float64 `json:"master_balance"`
}

func (s *Server) handleMasterOrder(w http.ResponseWriter, r *http.Request) {
	var req masterOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	if req.OperationID == "" || req.MasterID == "" || req.Instrument == "" {
		writeError(w, 400, "operation_id, master_id and instrument are required")
		return
	}
	order := domain.MasterOrder{
		ID:            req.OperationID,
		MasterID:      req.MasterID,
		Instrument:    req.Instrument,
		ContractType:  req.ContractType,
		Duration:      req.Duration,
		DurationUnit:  req.DurationUnit,
		Barrier:       req.Barrier,
		Stake:         req.Stake,
		MasterBalance: req.MasterBalance,
	}
	results, err := s.engine.Replicate(r.Context(), order)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		item := map[string]any{
			"follower_id":       res.FollowerID,
			"operation_id":      res.OperationID,
			"external_order_id": res.ExternalOrderID,
			"stake":             res.Stake,
			"ok":                res.OK(),
		}
		if res.Skipped != "" {
			item["skipped"] = res.Skipped
		}
		if res.Err != nil {
			item["error"] = res.Err.Error()
		}
		out = append(out, item)
	}
	writeJSON(w, 202, map[string]any{"operation_id": req.OperationID, "results": out})
}

type masterSettlementRequest struct {
	MasterID    string  `json:"master_id"`
	OperationID string  `json:"operation_id"`
	Result      string  `json:"result"`
	Profit      float64 `json:"profit"`
	Stake       float64 `json:"stake"`
}

func (s *Server) handleMasterSettlement(w http.ResponseWriter, r *http.Request) {
	var req masterSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	result := domain.OperationResult(req.Result)
	if result != domain.ResultWin && result != domain.ResultLoss {
		writeError(w, 400, "result must be win or loss")
		return
	}
	if req.OperationID == "" {
		writeError(w, 400, "operation_id is required")
		return
	}
	settlement := domain.MasterSettlement{
		MasterID:          req.MasterID,
		MasterOperationID: req.OperationID,
		Result:            result,
		Profit:            req.Profit,
		Stake:             req.Stake,
	}
	results, err := s.reconciler.Settle(r.Context(), settlement)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		item := map[string]any{
			"operation_id": res.OperationID,
			"follower_id":  res.FollowerID,
			"profit":       res.Profit,
			"already_done": res.AlreadyDone,
		}
		if res.SessionEnded != "" {
			item["session_ended"] = res.SessionEnded
		}
		if res.Err != nil {
			item["error"] = res.Err.Error()
		}
		out = append(out, item)
	}
	writeJSON(w, 200, map[string]any{"operation_id": req.OperationID, "results": out})
}

func sessionView(sess *domain.FollowerSession) map[string]any {
	if sess == nil {
		return nil
	}
	return map[string]any{
		"id":              sess.ID,
		"follower_id":     sess.FollowerID,
		"master_id":       sess.MasterID,
		"status":          sess.Status,
		"initial_balance": sess.InitialBalance,
		"current_balance": sess.CurrentBalance,
		"operations":      sess.Operations,
		"wins":            sess.Wins,
		"losses":          sess.Losses,
		"profit":          sess.Profit,
		"end_reason":      sess.EndReason,
		"created_at":      sess.CreatedAt,
		"updated_at":      sess.UpdatedAt,
	}
}
