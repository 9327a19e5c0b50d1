package vm

import (
	"fmt"
	"sync"

	"github.com/tolelom/tolauction/core"
)

// Receiver is invoked when an asset is transferred to a non-key address that
// registered itself. Returning an error aborts the transfer and with it the
// whole transaction.
type Receiver func(ctx *Context, from string, asset *core.Asset) error

var (
	receiversMu sync.RWMutex
	receivers   = make(map[string]Receiver)
)

// RegisterReceiver declares addr as a module-owned address that may hold
// assets. Panics on duplicate registration.
func RegisterReceiver(addr string, r Receiver) {
	receiversMu.Lock()
	defer receiversMu.Unlock()
	if _, exists := receivers[addr]; exists {
		panic(fmt.Sprintf("vm: receiver already registered for %q", addr))
	}
	receivers[addr] = r
}

// LookupReceiver returns the receiver registered for addr.
func LookupReceiver(addr string) (Receiver, bool) {
	receiversMu.RLock()
	defer receiversMu.RUnlock()
	r, ok := receivers[addr]
	return r, ok
}
