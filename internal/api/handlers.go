package api

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/stakes"
	"serotonyl.ru/staking/internal/jobs"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in accounts.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := s.svc.Accounts.Register(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	acc, err := s.svc.Accounts.Get(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleLinkTelegram(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		ChatID int64 `json:"chat_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.Accounts.LinkTelegram(r.Context(), uid, in.ChatID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStakesList(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	list, err := s.svc.Stakes.ListForUser(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []*stakes.Stake{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stakes": list})
}

func (s *Server) handleStakeCreate(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Amount     decimal.Decimal `json:"amount"`
		LockPeriod int             `json:"lock_period"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.Stakes.CreateStake(r.Context(), stakes.CreateInput{
		UserID:     uid,
		Principal:  in.Amount,
		LockPeriod: in.LockPeriod,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleStakesArchive(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	list, err := s.svc.Stakes.ListArchived(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []stakes.Archived{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stakes": list})
}

func (s *Server) handleStakeGet(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.svc.Stakes.Get(r.Context(), uid, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStakeWithdraw(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.svc.Stakes.Withdraw(r.Context(), uid, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleStakeRelock(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		LockPeriod int `json:"lock_period"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.svc.Stakes.Relock(r.Context(), uid, id, in.LockPeriod)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStakeAutoRelock(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Enabled == nil {
		writeError(w, http.StatusBadRequest, "поле enabled обязательно")
		return
	}
	if err := s.svc.Stakes.SetAutoRelock(r.Context(), uid, id, *in.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stake_id": id, "auto_relock": *in.Enabled})
}

func (s *Server) handleReferrals(w http.ResponseWriter, r *http.Request) {
	uid, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	ov, err := s.svc.Referrals.Overview(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleAdminDeposit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID    int64           `json:"user_id"`
		Amount    decimal.Decimal `json:"amount"`
		Reference string          `json:"reference"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id обязателен")
		return
	}
	b, err := s.svc.Accounts.ApproveDeposit(r.Context(), in.UserID, in.Amount, in.Reference)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAdminStakes(w http.ResponseWriter, r *http.Request) {
	ov, err := s.svc.Stakes.AdminOverview(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleAdminSweep(w http.ResponseWriter, r *http.Request) {
	reports, err := s.svc.Runner.Run(r.Context(), chiURLParam(r, "name"))
	switch {
	case errors.Is(err, jobs.ErrSweepRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, jobs.ErrUnknownSweep):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"reports": reports, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (s *Server) handleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.Referrals.Reconcile(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
