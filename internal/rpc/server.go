// Package rpc exposes the swap core over HTTP JSON-RPC plus a WebSocket
// event stream. The HTTP surface is a single POST endpoint dispatching
// on the method name; admin and relay methods are gated on the
// configured admin principal.
package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/core/service"
	"github.com/meridianswap/swapd/internal/storage/relationalDb"
)

// Server handles HTTP JSON-RPC requests.
type Server struct {
	registry *MethodRegistry
	admin    string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewServer builds a server with every method registered against the
// given service and history store.
func NewServer(svc *service.Service, history *relationalDb.Store, adminPrincipal string, timeout time.Duration, log zerolog.Logger) *Server {
	s := &Server{
		registry: NewMethodRegistry(),
		admin:    adminPrincipal,
		timeout:  timeout,
		log:      log.With().Str("component", "rpc").Logger(),
	}
	newMethods(svc, history).registerAll(s.registry)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeResponse(w, nil, newError("internal", "failed to read request body"))
		return
	}
	defer r.Body.Close()

	var request Request
	if err := json.Unmarshal(body, &request); err != nil {
		s.writeResponse(w, nil, newError("jsonInvalid", "invalid JSON: "+err.Error()))
		return
	}
	if request.Method == "" {
		s.writeResponse(w, nil, newError("missingCommand", "missing method field"))
		return
	}

	var params json.RawMessage
	if len(request.Params) > 0 {
		params = request.Params[0]
	}

	ctx := &CallContext{
		Context:  r.Context(),
		Caller:   callerFromParams(params),
		ClientIP: clientIP(r),
	}
	ctx.IsAdmin = s.admin != "" && ctx.Caller == s.admin

	result, rpcErr := s.execute(request.Method, params, ctx)
	s.writeResponse(w, result, rpcErr)
}

func (s *Server) execute(name string, params json.RawMessage, ctx *CallContext) (any, *RpcError) {
	m, ok := s.registry.Get(name)
	if !ok {
		return nil, errMethodNotFound(name)
	}
	if m.adminOnly && !ctx.IsAdmin {
		s.log.Warn().Str("method", name).Str("caller", ctx.Caller).Str("ip", ctx.ClientIP).Msg("admin method refused")
		return nil, errForbidden()
	}

	result, err := m.fn(ctx, params)
	if err != nil {
		if rpcErr, ok := err.(*RpcError); ok {
			return nil, rpcErr
		}
		return nil, wrapDomainError(err)
	}
	return result, nil
}

func (s *Server) writeResponse(w http.ResponseWriter, result any, rpcErr *RpcError) {
	response := make(map[string]any)
	if rpcErr != nil {
		response["result"] = map[string]any{
			"status":          "error",
			"error":           rpcErr.Name,
			"error_code":      rpcErr.Code,
			"error_codespace": rpcErr.Codespace,
			"error_message":   rpcErr.Message,
		}
	} else {
		response["result"] = map[string]any{
			"status": "success",
			"data":   result,
		}
	}

	raw, err := json.Marshal(response)
	if err != nil {
		s.log.Error().Err(err).Msg("response marshal failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// callerFromParams pulls the caller principal out of the params object
// before the method-specific decode runs.
func callerFromParams(params json.RawMessage) string {
	if params == nil {
		return ""
	}
	var head struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &head); err != nil {
		return ""
	}
	return head.Caller
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
