package vm

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/tolauction/core"
)

// Handler executes one transaction type against ctx.
type Handler func(ctx *Context, payload json.RawMessage) error

// UnknownTxTypeError rejects a transaction no module handles.
type UnknownTxTypeError struct {
	Type core.TxType
}

func (e *UnknownTxTypeError) Error() string {
	return fmt.Sprintf("no handler registered for tx type %q", e.Type)
}

func (e *UnknownTxTypeError) ErrorKind() string { return "validation" }
func (e *UnknownTxTypeError) ErrorCode() string { return "unknown_tx_type" }

var (
	handlersMu sync.RWMutex
	handlers   = make(map[core.TxType]Handler)
)

// Register binds typ to h. Modules call it from init; a second registration
// for the same type panics.
func Register(typ core.TxType, h Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	if _, exists := handlers[typ]; exists {
		panic(fmt.Sprintf("vm: handler already registered for tx type %q", typ))
	}
	handlers[typ] = h
}

// Registered reports whether a module handles typ.
func Registered(typ core.TxType) bool {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	_, ok := handlers[typ]
	return ok
}

// TxTypes lists the registered transaction types in sorted order.
func TxTypes() []core.TxType {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	out := make([]core.TxType, 0, len(handlers))
	for typ := range handlers {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dispatch(ctx *Context, typ core.TxType, payload json.RawMessage) error {
	handlersMu.RLock()
	h, ok := handlers[typ]
	handlersMu.RUnlock()
	if !ok {
		return &UnknownTxTypeError{Type: typ}
	}
	return h(ctx, payload)
}
