package rpc

import (
	"net/http"
	"time"

	"creditrail/native/pricefeed"
)

type setPriceParams struct {
	FeedID      string `json:"feedId"`
	Price       int64  `json:"price"`
	Expo        int32  `json:"expo,omitempty"`
	PublishedAt int64  `json:"publishedAt,omitempty"`
}

type attestIncomeParams struct {
	Address string `json:"address"`
	Income  uint64 `json:"income"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.oracle == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "price oracle not configured", nil)
		return
	}
	var input setPriceParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	publishedAt := time.Now()
	if input.PublishedAt > 0 {
		publishedAt = time.Unix(input.PublishedAt, 0)
	}
	quote := pricefeed.Quote{
		FeedID:      input.FeedID,
		Price:       input.Price,
		Expo:        input.Expo,
		PublishedAt: publishedAt,
	}
	if err := s.oracle.SetQuote(quote); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid quote", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleAttestIncome(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.incomes == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "income registry not configured", nil)
		return
	}
	var input attestIncomeParams
	if err := decodeParams(req, &input); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := decodeBech32(input.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	s.incomes.Set(addr, input.Income)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
