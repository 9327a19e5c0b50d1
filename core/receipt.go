package core

import "errors"

// ErrInsufficientFunds is returned when a native token balance cannot cover a debit.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ClassifiedError is implemented by errors that carry a stable kind and code,
// so callers can tell a retryable validation failure from a permanent one
// without importing the package that produced it.
type ClassifiedError interface {
	error
	ErrorKind() string
	ErrorCode() string
}

// Classify returns the kind and code of err, or ("internal", "") when err
// carries no classification.
func Classify(err error) (kind, code string) {
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.ErrorKind(), ce.ErrorCode()
	}
	return "internal", ""
}

// ReceiptStatus is the outcome of a transaction.
type ReceiptStatus string

const (
	ReceiptOK     ReceiptStatus = "ok"
	ReceiptFailed ReceiptStatus = "failed"
)

// Receipt records what happened to a submitted transaction.
type Receipt struct {
	TxID        string        `json:"tx_id"`
	Type        TxType        `json:"type"`
	From        string        `json:"from"`
	BlockHeight int64         `json:"block_height"`
	Status      ReceiptStatus `json:"status"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// NewFailedReceipt builds the receipt for a transaction that was rejected.
func NewFailedReceipt(tx *Transaction, height int64, err error) Receipt {
	kind, code := Classify(err)
	return Receipt{
		TxID:        tx.ID,
		Type:        tx.Type,
		From:        tx.From,
		BlockHeight: height,
		Status:      ReceiptFailed,
		ErrorKind:   kind,
		ErrorCode:   code,
		Error:       err.Error(),
	}
}
