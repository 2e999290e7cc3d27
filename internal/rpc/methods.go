package rpc

import (
	"encoding/json"

	"cosmossdk.io/math"

	"github.com/meridianswap/swapd/internal/core/request"
	"github.com/meridianswap/swapd/internal/core/service"
	"github.com/meridianswap/swapd/internal/core/settle"
	"github.com/meridianswap/swapd/internal/core/token"
	"github.com/meridianswap/swapd/internal/storage/relationalDb"
)

// methods binds every RPC method to the core service. The four
// state-changing operations run synchronously; a request parked on a
// relay round trip comes back in awaiting_remote and is completed by the
// relay methods.
type methods struct {
	svc     *service.Service
	history *relationalDb.Store
}

func newMethods(svc *service.Service, history *relationalDb.Store) *methods {
	return &methods{svc: svc, history: history}
}

func (m *methods) registerAll(reg *MethodRegistry) {
	reg.Register("add_pool", m.addPool)
	reg.Register("add_liquidity", m.addLiquidity)
	reg.Register("remove_liquidity", m.removeLiquidity)
	reg.Register("swap", m.swap)
	reg.Register("quote_swap", m.quoteSwap)

	reg.Register("request", m.getRequest)
	reg.Register("requests", m.listRequests)
	reg.Register("transactions", m.transactions)
	reg.Register("tokens", m.listTokens)
	reg.Register("pools", m.listPools)
	reg.Register("get_remote_address", m.getRemoteAddress)

	reg.RegisterAdmin("add_token", m.addToken)
	reg.RegisterAdmin("remove_token", m.removeToken)
	reg.RegisterAdmin("update_token_metadata", m.updateTokenMetadata)
	reg.RegisterAdmin("cache_remote_address", m.cacheRemoteAddress)
	reg.RegisterAdmin("claims", m.listClaims)
	reg.RegisterAdmin("resolve_claim", m.resolveClaim)

	// Relay surface.
	reg.RegisterAdmin("poll_jobs", m.pollJobs)
	reg.RegisterAdmin("update_job", m.updateJob)
	reg.RegisterAdmin("notify_deposit", m.notifyDeposit)
	reg.RegisterAdmin("pending_deposits", m.pendingDeposits)
	reg.RegisterAdmin("update_anchor", m.updateAnchor)
}

func decode[T any](params json.RawMessage) (T, error) {
	var args T
	if params == nil {
		return args, errInvalidParams("missing params")
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return args, errInvalidParams(err.Error())
	}
	return args, nil
}

func (m *methods) addPool(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		Caller string `json:"caller"`
		request.AddPoolArgs
	}](params)
	if err != nil {
		return nil, err
	}
	req, opErr := m.svc.AddPool(ctx.Context, args.Caller, args.AddPoolArgs)
	return requestResult(req, opErr)
}

func (m *methods) addLiquidity(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		Caller string `json:"caller"`
		request.AddLiquidityArgs
	}](params)
	if err != nil {
		return nil, err
	}
	req, opErr := m.svc.AddLiquidity(ctx.Context, args.Caller, args.AddLiquidityArgs)
	return requestResult(req, opErr)
}

func (m *methods) removeLiquidity(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		Caller string `json:"caller"`
		request.RemoveLiquidityArgs
	}](params)
	if err != nil {
		return nil, err
	}
	req, opErr := m.svc.RemoveLiquidity(ctx.Context, args.Caller, args.RemoveLiquidityArgs)
	return requestResult(req, opErr)
}

func (m *methods) swap(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		Caller string `json:"caller"`
		request.SwapArgs
	}](params)
	if err != nil {
		return nil, err
	}
	req, opErr := m.svc.Swap(ctx.Context, args.Caller, args.SwapArgs)
	return requestResult(req, opErr)
}

// requestResult returns the request record even on failure: the caller
// gets the trace and the typed error in one round trip.
func requestResult(req *request.Request, opErr error) (any, error) {
	if opErr != nil {
		if req == nil {
			return nil, opErr
		}
		rpcErr := wrapDomainError(opErr)
		return map[string]any{"request": req, "error": rpcErr}, nil
	}
	return map[string]any{"request": req}, nil
}

func (m *methods) quoteSwap(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		PayToken       uint64   `json:"pay_token"`
		PayAmount      math.Int `json:"pay_amount"`
		ReceiveToken   uint64   `json:"receive_token"`
		MaxSlippageBps uint32   `json:"max_slippage_bps"`
	}](params)
	if err != nil {
		return nil, err
	}
	return m.svc.Engine().QuoteSwap(ctx.Context, args.PayToken, args.ReceiveToken, args.PayAmount, args.MaxSlippageBps)
}

func (m *methods) getRequest(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		ID uint64 `json:"id"`
	}](params)
	if err != nil {
		return nil, err
	}
	return m.svc.Requests().Get(ctx.Context, args.ID)
}

func (m *methods) listRequests(ctx *CallContext, params json.RawMessage) (any, error) {
	var args struct {
		BeforeID uint64 `json:"before_id"`
		Limit    int    `json:"limit"`
	}
	if params != nil {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, errInvalidParams(err.Error())
		}
	}
	return m.svc.Requests().List(ctx.Context, args.BeforeID, args.Limit)
}

func (m *methods) transactions(ctx *CallContext, params json.RawMessage) (any, error) {
	if m.history == nil {
		return nil, newError("notSupported", "transfer history index is disabled")
	}
	var args struct {
		Principal string `json:"principal"`
		TokenID   uint64 `json:"token_id"`
		RequestID uint64 `json:"request_id"`
		BeforeID  uint64 `json:"before_id"`
		Limit     int    `json:"limit"`
	}
	if params != nil {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, errInvalidParams(err.Error())
		}
	}
	return m.history.Query(ctx.Context, relationalDb.Filter{
		Principal: args.Principal,
		TokenID:   args.TokenID,
		RequestID: args.RequestID,
		BeforeID:  args.BeforeID,
		Limit:     args.Limit,
	})
}

func (m *methods) listTokens(ctx *CallContext, params json.RawMessage) (any, error) {
	return m.svc.Tokens().List(ctx.Context)
}

func (m *methods) listPools(ctx *CallContext, params json.RawMessage) (any, error) {
	return m.svc.Engine().Pools().List(ctx.Context)
}

func (m *methods) getRemoteAddress(ctx *CallContext, params json.RawMessage) (any, error) {
	addr, err := m.svc.Coordinator().RemoteAddress(ctx.Context)
	if err != nil {
		return nil, err
	}
	return map[string]string{"address": addr}, nil
}

func (m *methods) addToken(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		Caller string `json:"caller"`
		token.Descriptor
	}](params)
	if err != nil {
		return nil, err
	}
	return m.svc.Tokens().Add(ctx.Context, args.Descriptor)
}

func (m *methods) removeToken(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		TokenID uint64 `json:"token_id"`
	}](params)
	if err != nil {
		return nil, err
	}
	if err := m.svc.Tokens().Remove(ctx.Context, args.TokenID); err != nil {
		return nil, err
	}
	return map[string]uint64{"token_id": args.TokenID}, nil
}

func (m *methods) updateTokenMetadata(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		TokenID  uint64 `json:"token_id"`
		Name     string `json:"name"`
		Decimals uint8  `json:"decimals"`
	}](params)
	if err != nil {
		return nil, err
	}
	return m.svc.Tokens().UpdateMetadata(ctx.Context, args.TokenID, args.Name, args.Decimals)
}

func (m *methods) cacheRemoteAddress(ctx *CallContext, params json.RawMessage) (any, error) {
	return m.svc.Coordinator().CacheRemoteAddress(ctx.Context)
}

func (m *methods) listClaims(ctx *CallContext, params json.RawMessage) (any, error) {
	var args struct {
		IncludeResolved bool `json:"include_resolved"`
	}
	if params != nil {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, errInvalidParams(err.Error())
		}
	}
	return m.svc.Coordinator().Claims.List(ctx.Context, args.IncludeResolved)
}

func (m *methods) resolveClaim(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		ClaimID uint64 `json:"claim_id"`
	}](params)
	if err != nil {
		return nil, err
	}
	return m.svc.Coordinator().Claims.Resolve(ctx.Context, args.ClaimID)
}

func (m *methods) pollJobs(ctx *CallContext, params json.RawMessage) (any, error) {
	var args struct {
		Limit int `json:"limit"`
	}
	if params != nil {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, errInvalidParams(err.Error())
		}
	}
	return m.svc.Coordinator().Jobs.ListPending(ctx.Context, args.Limit)
}

func (m *methods) updateJob(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		JobID       uint64 `json:"job_id"`
		Status      string `json:"status"`
		TxReference string `json:"tx_reference"`
		FailReason  string `json:"fail_reason"`
	}](params)
	if err != nil {
		return nil, err
	}
	return m.svc.Coordinator().UpdateJob(ctx.Context, args.JobID, settle.JobStatus(args.Status), args.TxReference, args.FailReason)
}

func (m *methods) notifyDeposit(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		TokenID     uint64   `json:"token_id"`
		Amount      math.Int `json:"amount"`
		Sender      string   `json:"sender"`
		TxReference string   `json:"tx_reference"`
	}](params)
	if err != nil {
		return nil, err
	}
	return m.svc.Coordinator().RecordDeposit(ctx.Context, args.TokenID, args.Amount, args.Sender, args.TxReference)
}

func (m *methods) pendingDeposits(ctx *CallContext, params json.RawMessage) (any, error) {
	return m.svc.Coordinator().Notes.ListUnconsumed(ctx.Context)
}

func (m *methods) updateAnchor(ctx *CallContext, params json.RawMessage) (any, error) {
	args, err := decode[struct {
		Value string `json:"value"`
		Slot  uint64 `json:"slot"`
	}](params)
	if err != nil {
		return nil, err
	}
	if err := m.svc.Coordinator().UpdateAnchor(ctx.Context, args.Value, args.Slot); err != nil {
		return nil, err
	}
	return map[string]string{"anchor": args.Value}, nil
}
