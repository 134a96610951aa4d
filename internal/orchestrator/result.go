package orchestrator

import "panelsync/internal/models"

// ResultKind is the stable outcome kind returned across the service
// boundary. Panel-specific error strings never leak through it.
type ResultKind string

const (
	ResultOK                  ResultKind = "ok"
	ResultDuplicate           ResultKind = "duplicate"
	ResultNotFound            ResultKind = "not_found"
	ResultInsufficientBalance ResultKind = "insufficient_balance"
	ResultPlanUnavailable     ResultKind = "plan_unavailable"
	ResultPanelUnavailable    ResultKind = "panel_unavailable"
	ResultConflict            ResultKind = "conflict"
	ResultFailed              ResultKind = "failed"
)

// Result is returned by every orchestrator operation.
type Result struct {
	Kind    ResultKind         `json:"kind"`
	Account *models.VpnAccount `json:"account,omitempty"`
	Balance int64              `json:"balance,omitempty"`
}

func result(kind ResultKind) Result {
	return Result{Kind: kind}
}
