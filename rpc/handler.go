package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolstake/catalog"
	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/indexer"
	"github.com/tolelom/tolstake/vm"
)

// Catalog stores pool display metadata. *catalog.Store implements it.
type Catalog interface {
	Upsert(ctx context.Context, m catalog.PoolMeta) error
	Get(ctx context.Context, poolID string) (*catalog.PoolMeta, error)
	List(ctx context.Context, limit, offset int) ([]*catalog.PoolMeta, error)
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	exec    *vm.Executor
	indexer *indexer.Indexer
	catalog Catalog // nil when no database is configured
}

// NewHandler creates an RPC Handler. cat may be nil.
func NewHandler(exec *vm.Executor, idx *indexer.Indexer, cat Catalog) *Handler {
	return &Handler{exec: exec, indexer: idx, catalog: cat}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case "sendTx":
		return h.sendTx(req)

	case "getPool":
		return h.getPool(req)

	case "getPosition":
		return h.getPosition(req)

	case "getStakeInfo":
		return h.getStakeInfo(req)

	case "getBalance":
		return h.getBalance(req)

	case "listPools":
		return h.listPools(req)

	case "getPoolsByAdmin":
		return h.getPoolsByAdmin(req)

	case "getPositionsByUser":
		return h.getPositionsByUser(req)

	case "getStateRoot":
		return h.getStateRoot(req)

	case "registerPoolMetadata":
		return h.registerPoolMetadata(ctx, req)

	case "getPoolMetadata":
		return h.getPoolMetadata(ctx, req)

	case "listPoolMetadata":
		return h.listPoolMetadata(ctx, req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func decodeParams(req Request, v any) *Response {
	if len(req.Params) == 0 {
		resp := errResponse(req.ID, CodeInvalidParams, "params required")
		return &resp
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return &resp
	}
	return nil
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if resp := decodeParams(req, &tx); resp != nil {
		return *resp
	}
	if tx.Timestamp == 0 {
		tx.Timestamp = time.Now().UnixNano()
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	rcpt, err := h.exec.ExecuteTx(&tx)
	if err != nil {
		return ledgerErr(req.ID, err)
	}
	return okResponse(req.ID, rcpt)
}

func (h *Handler) getPool(req Request) Response {
	var params struct {
		PoolID string `json:"pool_id"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.PoolID == "" {
		return errResponse(req.ID, CodeInvalidParams, "pool_id is required")
	}
	var pool *core.Pool
	err := h.exec.View(func(ctx *vm.Context) error {
		var err error
		pool, err = ctx.Keeper().Pool(params.PoolID)
		return err
	})
	if err != nil {
		return ledgerErr(req.ID, err)
	}
	return okResponse(req.ID, pool)
}

func (h *Handler) getPosition(req Request) Response {
	var params struct {
		PoolID string `json:"pool_id"`
		Owner  string `json:"owner"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.PoolID == "" || params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "pool_id and owner are required")
	}
	var pos *core.Position
	err := h.exec.View(func(ctx *vm.Context) error {
		if _, err := ctx.Keeper().Pool(params.PoolID); err != nil {
			return err
		}
		var err error
		pos, err = ctx.Keeper().Position(params.PoolID, params.Owner)
		return err
	})
	if err != nil {
		return ledgerErr(req.ID, err)
	}
	if pos == nil {
		// Empty position.
		pos = &core.Position{PoolID: params.PoolID, Owner: params.Owner}
	}
	return okResponse(req.ID, pos)
}

func (h *Handler) getStakeInfo(req Request) Response {
	var params struct {
		PoolID string `json:"pool_id"`
		Owner  string `json:"owner"`
		At     *int64 `json:"at"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.PoolID == "" || params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "pool_id and owner are required")
	}
	var info any
	err := h.exec.View(func(ctx *vm.Context) error {
		var err error
		info, err = ctx.Keeper().StakeInfo(params.PoolID, params.Owner, params.At)
		return err
	})
	if err != nil {
		return ledgerErr(req.ID, err)
	}
	return okResponse(req.ID, info)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Token   string `json:"token"`
		Address string `json:"address"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Token == "" || params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "token and address are required")
	}
	var balance uint64
	err := h.exec.View(func(ctx *vm.Context) error {
		var err error
		balance, err = ctx.Bank.BalanceOf(params.Token, params.Address)
		return err
	})
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"token": params.Token, "address": params.Address, "balance": balance})
}

func (h *Handler) loadPools(ids []string) ([]*core.Pool, error) {
	pools := make([]*core.Pool, 0, len(ids))
	err := h.exec.View(func(ctx *vm.Context) error {
		k := ctx.Keeper()
		for _, id := range ids {
			p, err := k.Pool(id)
			if err != nil {
				return err
			}
			pools = append(pools, p)
		}
		return nil
	})
	return pools, err
}

func (h *Handler) listPools(req Request) Response {
	ids, err := h.indexer.Pools()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	pools, err := h.loadPools(ids)
	if err != nil {
		return ledgerErr(req.ID, err)
	}
	return okResponse(req.ID, pools)
}

func (h *Handler) getPoolsByAdmin(req Request) Response {
	var params struct {
		Admin string `json:"admin"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Admin == "" {
		return errResponse(req.ID, CodeInvalidParams, "admin is required")
	}
	ids, err := h.indexer.PoolsByAdmin(params.Admin)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	pools, err := h.loadPools(ids)
	if err != nil {
		return ledgerErr(req.ID, err)
	}
	return okResponse(req.ID, pools)
}

func (h *Handler) getPositionsByUser(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	ids, err := h.indexer.PoolsByStaker(params.Owner)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	positions := make([]*core.Position, 0, len(ids))
	err = h.exec.View(func(ctx *vm.Context) error {
		k := ctx.Keeper()
		for _, id := range ids {
			pos, err := k.Position(id, params.Owner)
			if err != nil {
				return err
			}
			if pos != nil {
				positions = append(positions, pos)
			}
		}
		return nil
	})
	if err != nil {
		return ledgerErr(req.ID, err)
	}
	return okResponse(req.ID, positions)
}

func (h *Handler) getStateRoot(req Request) Response {
	var root string
	_ = h.exec.View(func(ctx *vm.Context) error {
		root = ctx.State.ComputeRoot()
		return nil
	})
	return okResponse(req.ID, map[string]string{"state_root": root})
}

func (h *Handler) registerPoolMetadata(ctx context.Context, req Request) Response {
	if h.catalog == nil {
		return errResponse(req.ID, CodeUnavailable, "pool catalog is not configured")
	}
	var meta catalog.PoolMeta
	if resp := decodeParams(req, &meta); resp != nil {
		return *resp
	}
	if err := meta.Validate(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	var pool *core.Pool
	err := h.exec.View(func(vc *vm.Context) error {
		var err error
		pool, err = vc.Keeper().Pool(meta.PoolID)
		return err
	})
	if err != nil {
		return ledgerErr(req.ID, err)
	}
	if pool.Admin != meta.Admin {
		return errResponse(req.ID, CodeForbidden, "only the pool admin can register metadata")
	}
	if err := h.catalog.Upsert(ctx, meta); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, meta)
}

func (h *Handler) getPoolMetadata(ctx context.Context, req Request) Response {
	if h.catalog == nil {
		return errResponse(req.ID, CodeUnavailable, "pool catalog is not configured")
	}
	var params struct {
		PoolID string `json:"pool_id"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.PoolID == "" {
		return errResponse(req.ID, CodeInvalidParams, "pool_id is required")
	}
	meta, err := h.catalog.Get(ctx, params.PoolID)
	if errors.Is(err, catalog.ErrNotFound) {
		return errResponse(req.ID, CodeNotFound, err.Error())
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, meta)
}

func (h *Handler) listPoolMetadata(ctx context.Context, req Request) Response {
	if h.catalog == nil {
		return errResponse(req.ID, CodeUnavailable, "pool catalog is not configured")
	}
	var params struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, err.Error())
		}
	}
	metas, err := h.catalog.List(ctx, params.Limit, params.Offset)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, metas)
}
