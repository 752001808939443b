package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/cipherbid/core"
)

func (s *Server) registerEscrowRoutes(r chi.Router) {
	r.Get("/", s.escrowPool)
	r.Post("/fund", s.fundEscrow)
	r.Get("/accounts/{address}", s.escrowAccount)
	r.Get("/releases/{round}", s.escrowRelease)
}

type poolResponse struct {
	Pool decimal.Decimal `json:"pool"`
}

type fundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type accountResponse struct {
	Address    common.Address  `json:"address"`
	Balance    decimal.Decimal `json:"balance"`
	Obligation decimal.Decimal `json:"obligation"`
}

func (s *Server) escrowPool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, poolResponse{Pool: s.escrow.Pool()})
}

// fundEscrow tops up the prize pool. Only the auction owner may fund it.
func (s *Server) fundEscrow(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if from != s.auction.Owner() {
		s.writeError(w, r, fmt.Errorf("%w: %s may not fund the prize pool", core.ErrNotOwner, from.Hex()))
		return
	}
	var req fundRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := s.escrow.Fund(req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse{Pool: s.escrow.Pool()})
}

func (s *Server) escrowAccount(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		badRequest(w, fmt.Sprintf("invalid address: %q", raw))
		return
	}
	addr := common.HexToAddress(raw)
	writeJSON(w, http.StatusOK, accountResponse{
		Address:    addr,
		Balance:    s.escrow.Balance(addr),
		Obligation: s.escrow.Obligation(addr),
	})
}

func (s *Server) escrowRelease(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil {
		badRequest(w, "round must be a positive integer")
		return
	}

	release, err := s.escrow.Lookup(round)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, release)
}
