package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AdjustRequest is one call to AdjustStock
type AdjustRequest struct {
	BatchID     string
	SkuID       string
	ChangeQty   int
	IsAdd       bool
	Kind        MovementKind
	ActorID     string
	Remark      string
	OrderItemID *string
}

// Path is the branch of the orchestrator a request takes
type Path int

const (
	PathAdd Path = iota + 1
	PathDeduct
	PathReturn
)

// Path classifies a validated request
func (r AdjustRequest) Path() Path {
	switch {
	case r.Kind == KindReturn:
		return PathReturn
	case r.IsAdd:
		return PathAdd
	default:
		return PathDeduct
	}
}

// HasOrderItem reports whether the request carries an order item
func (r AdjustRequest) HasOrderItem() bool {
	return r.OrderItemID != nil && *r.OrderItemID != ""
}

// Validate checks everything that can be checked without storage
func (r AdjustRequest) Validate() error {
	fields := map[string]string{}

	if strings.TrimSpace(r.SkuID) == "" {
		fields["sku_id"] = "this field is required"
	}
	if r.ChangeQty <= 0 {
		fields["change_qty"] = "must be greater than 0"
	}
	if strings.TrimSpace(r.ActorID) == "" {
		fields["actor_id"] = "this field is required"
	}
	if r.OrderItemID != nil && strings.TrimSpace(*r.OrderItemID) == "" {
		fields["order_item_id"] = "must not be blank when present"
	}
	if r.BatchID != "" {
		if _, err := uuid.Parse(r.BatchID); err != nil {
			fields["batch_id"] = "must be a valid UUID"
		}
	}

	switch r.Kind {
	case KindPurchase:
		if !r.IsAdd {
			fields["is_add"] = "purchase always adds stock"
		}
		if r.BatchID == "" {
			fields["batch_id"] = "this field is required"
		}
	case KindAdjust:
		if r.IsAdd && r.BatchID == "" {
			fields["batch_id"] = "required when adding stock"
		}
	case KindSale, KindExpire:
		if r.IsAdd {
			fields["is_add"] = string(r.Kind) + " always removes stock"
		}
	case KindReturn:
		if !r.IsAdd {
			fields["is_add"] = "return always adds stock"
		}
		if r.BatchID == "" && !r.HasOrderItem() {
			fields["batch_id"] = "required when no order_item_id is given"
		}
	default:
		fields["kind"] = "must be one of: purchase, adjust, sale, return, expire"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Outcome is the tri-state result of a movement
type Outcome string

const (
	OutcomeFulfilled          Outcome = "fulfilled"
	OutcomePartiallyFulfilled Outcome = "partially_fulfilled"
	OutcomeRejected           Outcome = "rejected"
)

// BatchMovement is the per-batch line of a result
type BatchMovement struct {
	MovementID string       `json:"movement_id"`
	BatchID    string       `json:"batch_id"`
	Kind       MovementKind `json:"kind"`
	Direction  Direction    `json:"direction"`
	ChangeQty  int          `json:"change_qty"`
	BeforeQty  int          `json:"before_qty"`
	AfterQty   int          `json:"after_qty"`
}

// AdjustResult is what AdjustStock returns for every call. Failures are
// reported through Success, Code and Message, never as a Go error.
type AdjustResult struct {
	Success                 bool              `json:"success"`
	Code                    string            `json:"code,omitempty"`
	Message                 string            `json:"message"`
	Details                 map[string]string `json:"details,omitempty"`
	Outcome                 Outcome           `json:"outcome"`
	SkuID                   string            `json:"sku_id"`
	Kind                    MovementKind      `json:"kind"`
	BatchID                 string            `json:"batch_id,omitempty"`
	RequestedQty            int               `json:"requested_qty"`
	AppliedQty              int               `json:"applied_qty"`
	TotalStockAfter         int               `json:"total_stock_after"`
	Movements               []BatchMovement   `json:"movements"`
	RemainingUnfulfilledQty int               `json:"remaining_unfulfilled_qty"`
	ReturnedToOriginalQty   int               `json:"returned_to_original_qty"`
	ExpiredQty              int               `json:"expired_qty"`
	CorrelationID           string            `json:"correlation_id,omitempty"`
	CompletedAt             time.Time         `json:"completed_at"`
}

// IsValidationFailure reports a request rejected before storage work
func (r *AdjustResult) IsValidationFailure() bool {
	return !r.Success && r.Code == CodeValidation
}

// IsSystemFailure reports an unexpected storage or infrastructure failure
func (r *AdjustResult) IsSystemFailure() bool {
	return !r.Success && r.Code == CodeInternal
}

// IsBusinessFailure reports a business-rule rejection
func (r *AdjustResult) IsBusinessFailure() bool {
	return !r.Success && !r.IsValidationFailure() && !r.IsSystemFailure()
}

// ReceiveBatchRequest creates a new lot and purchases stock into it
type ReceiveBatchRequest struct {
	SkuID           string
	BatchNumber     string
	Quantity        int
	ManufactureDate *time.Time
	ActorID         string
	Remark          string
}

// Validate checks the request without storage
func (r ReceiveBatchRequest) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(r.SkuID) == "" {
		fields["sku_id"] = "this field is required"
	}
	if r.Quantity <= 0 {
		fields["quantity"] = "must be greater than 0"
	}
	if strings.TrimSpace(r.ActorID) == "" {
		fields["actor_id"] = "this field is required"
	}
	if len(r.BatchNumber) > 100 {
		fields["batch_number"] = "must be at most 100 characters"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
