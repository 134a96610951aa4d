package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"panelsync/internal/orchestrator"
)

// envelope is the response shape for every API endpoint. Kind is the
// stable machine-readable outcome; Msg is for humans.
type envelope struct {
	Kind string      `json:"kind"`
	Msg  string      `json:"msg,omitempty"`
	Obj  interface{} `json:"obj,omitempty"`
}

func okResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, envelope{
		Kind: string(orchestrator.ResultOK),
		Msg:  msg,
		Obj:  obj,
	})
}

func errResponse(c echo.Context, status int, kind, msg string) error {
	return c.JSON(status, envelope{Kind: kind, Msg: msg})
}

// resultResponse translates an orchestrator result to an HTTP response.
func resultResponse(c echo.Context, res orchestrator.Result) error {
	status := http.StatusOK
	var obj interface{}
	switch res.Kind {
	case orchestrator.ResultOK:
		if res.Account != nil {
			obj = res.Account
		} else {
			obj = map[string]int64{"balance": res.Balance}
		}
	case orchestrator.ResultDuplicate:
		status = http.StatusConflict
	case orchestrator.ResultConflict:
		status = http.StatusConflict
		obj = res.Account
	case orchestrator.ResultNotFound:
		status = http.StatusNotFound
	case orchestrator.ResultInsufficientBalance:
		status = http.StatusPaymentRequired
	case orchestrator.ResultPlanUnavailable:
		status = http.StatusUnprocessableEntity
	case orchestrator.ResultPanelUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	return c.JSON(status, envelope{Kind: string(res.Kind), Obj: obj})
}
