package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/enclaveapi"
)

const maxBodyBytes = 64 << 10

func sender(r *http.Request) (common.Address, error) {
	raw := r.Header.Get(SenderHeader)
	if raw == "" {
		return common.Address{}, fmt.Errorf("missing %s header", SenderHeader)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s header: %q", SenderHeader, raw)
	}
	return common.HexToAddress(raw), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}
	return nil
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.auction.Status())
}

func (s *Server) owner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]common.Address{"owner": s.auction.Owner()})
}

func (s *Server) totalBids(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"total_bids": s.auction.TotalBids()})
}

func (s *Server) claimed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"claimed": s.auction.Claimed()})
}

func (s *Server) ended(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ended": s.auction.Ended()})
}

func (s *Server) timeRemaining(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"time_remaining": s.auction.TimeRemaining()})
}

func (s *Server) highestBid(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]core.Handle{"ct_hash": s.auction.EncryptedHighestBid()})
}

func (s *Server) listBids(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.auction.Bids())
}

func (s *Server) bid(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var in core.EncryptedInput
	if err := decodeBody(w, r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}

	receipt, err := s.auction.Bid(r.Context(), from, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := s.auction.Claim(r.Context(), from)
	if errors.Is(err, core.ErrDecryptionPending) && result != nil {
		writeJSON(w, http.StatusAccepted, errorResponse{Error: err.Error(), RequestID: result.RequestID})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type startRoundRequest struct {
	DurationMinutes int64 `json:"duration_minutes"`
}

type startRoundResponse struct {
	Round         uint64 `json:"round"`
	TimeRemaining uint64 `json:"time_remaining"`
}

func (s *Server) startRound(w http.ResponseWriter, r *http.Request) {
	from, err := sender(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req startRoundRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	round, err := s.auction.StartNewRound(r.Context(), from, req.DurationMinutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startRoundResponse{Round: round, TimeRemaining: s.auction.TimeRemaining()})
}

type deliverRequest struct {
	RequestID string `json:"request_id"`
}

func (s *Server) deliverDecryption(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.RequestID == "" {
		badRequest(w, "request_id is required")
		return
	}

	settlement, err := s.auction.DeliverDecryption(r.Context(), req.RequestID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

type decryptionView struct {
	RequestID   string                         `json:"request_id"`
	Round       uint64                         `json:"round"`
	Winner      common.Address                 `json:"winner"`
	WinningBid  decimal.Decimal                `json:"winning_bid"`
	Attestation enclaveapi.AttestationCOSEGzip `json:"attestation,omitempty"`
}

// getDecryption returns a settled round's decryption with its attestation, so
// bidders can check the outcome. Unsettled requests are not disclosed.
func (s *Server) getDecryption(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	settlement, err := s.settlementFor(requestID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.decryptions.DecryptionResult(r.Context(), requestID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view := decryptionView{
		RequestID:  requestID,
		Round:      settlement.Round,
		Winner:     result.Winner,
		WinningBid: core.UnscaleAmount(result.Amount),
	}
	if len(result.Attestation) > 0 {
		view.Attestation, err = enclaveapi.AttestationCOSE(result.Attestation).CompressGzip()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) settlementFor(requestID string) (*core.Settlement, error) {
	if current := s.auction.Settlement(); current != nil && current.RequestID == requestID {
		return current, nil
	}
	if s.history != nil {
		records, err := s.history.List()
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.Settlement != nil && rec.Settlement.RequestID == requestID {
				return rec.Settlement, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s has not been settled", core.ErrUnknownDecryption, requestID)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil {
		badRequest(w, "round must be a positive integer")
		return
	}

	record, err := s.history.Get(round)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
