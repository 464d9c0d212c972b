package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"creditrail/native/lending"
	"creditrail/native/pricefeed"
	"creditrail/observability/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the lending engine over JSON-RPC 2.0. Mutating methods are
// serialized behind a mutex so engine state transitions never interleave.
type Server struct {
	mu     sync.Mutex
	engine *lending.Engine
	logger *slog.Logger

	oracle  *pricefeed.StaticOracle
	incomes *lending.IncomeRegistry

	authToken string
}

// NewServer wires a server around the engine. The bearer token guarding
// privileged methods comes from CREDITRAIL_RPC_TOKEN unless overridden via
// SetAuthToken.
func NewServer(engine *lending.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		logger:    logger,
		authToken: strings.TrimSpace(os.Getenv("CREDITRAIL_RPC_TOKEN")),
	}
}

// SetAuthToken overrides the bearer token guarding privileged methods.
func (s *Server) SetAuthToken(token string) {
	s.authToken = strings.TrimSpace(token)
}

// SetOracle exposes the node's manual price oracle over the privileged
// lend_setPrice method.
func (s *Server) SetOracle(oracle *pricefeed.StaticOracle) {
	s.oracle = oracle
}

// SetIncomeRegistry exposes the income attestation registry over the
// privileged lend_attestIncome method.
func (s *Server) SetIncomeRegistry(registry *lending.IncomeRegistry) {
	s.incomes = registry
}

// Handler returns the HTTP handler serving the RPC endpoint and the
// Prometheus scrape endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves the RPC endpoint until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "component", "rpc", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := time.Now()
	defer func() {
		metrics.RPC().ObserveRequest(req.Method, time.Since(started))
	}()

	switch req.Method {
	case "lend_getReserve":
		s.handleGetReserve(w, r, req)
	case "lend_getObligation":
		s.handleGetObligation(w, r, req)
	case "lend_getBorrower":
		s.handleGetBorrower(w, r, req)
	case "lend_onboardBorrower":
		s.handleOnboardBorrower(w, r, req)
	case "lend_verifyKYC":
		s.handleVerifyKYC(w, r, req)
	case "lend_registerRiskModel":
		if authErr := s.requireAuth(r); authErr != nil {
			metrics.RPC().ObserveUnauthorized(req.Method)
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleRegisterRiskModel(w, r, req)
	case "lend_deposit":
		s.handleDeposit(w, r, req)
	case "lend_withdraw":
		s.handleWithdraw(w, r, req)
	case "lend_requestLoan":
		s.handleRequestLoan(w, r, req)
	case "lend_fundLoan":
		s.handleFundLoan(w, r, req)
	case "lend_repay":
		s.handleRepay(w, r, req)
	case "lend_closeLoan":
		s.handleCloseLoan(w, r, req)
	case "lend_liquidate":
		s.handleLiquidate(w, r, req)
	case "lend_processFees":
		if authErr := s.requireAuth(r); authErr != nil {
			metrics.RPC().ObserveUnauthorized(req.Method)
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleProcessFees(w, r, req)
	case "lend_withdrawFees":
		if authErr := s.requireAuth(r); authErr != nil {
			metrics.RPC().ObserveUnauthorized(req.Method)
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleWithdrawFees(w, r, req)
	case "lend_setPrice":
		if authErr := s.requireAuth(r); authErr != nil {
			metrics.RPC().ObserveUnauthorized(req.Method)
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetPrice(w, r, req)
	case "lend_attestIncome":
		if authErr := s.requireAuth(r); authErr != nil {
			metrics.RPC().ObserveUnauthorized(req.Method)
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAttestIncome(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}
