package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Result codes. Business codes describe an expected rejection; the caller
// branches on them instead of on a Go error.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
	CodeSkuNotFound       = "SKU_NOT_FOUND"
	CodeBatchNotFound     = "BATCH_NOT_FOUND"
	CodeNoHeadroom        = "NO_HEADROOM"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeNoConsumableStock = "NO_CONSUMABLE_STOCK"
	CodeNoSaleHistory     = "NO_SALE_HISTORY"
	CodeReturnExceedsSold = "RETURN_EXCEEDS_SOLD"
	CodeStockBusy         = "STOCK_BUSY"
	CodeAlreadySold       = "ALREADY_SOLD"
)

// ValidationError is bad input caught before any storage work
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// BusinessError is a business-rule rejection. Returned from inside a unit
// of work it rolls the transaction back and becomes a Success=false result.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return e.Code + ": " + e.Message
}

// Reject builds a BusinessError
func Reject(code, format string, args ...interface{}) *BusinessError {
	return &BusinessError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsBusiness unwraps err into a BusinessError
func AsBusiness(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// AsValidation unwraps err into a ValidationError
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
