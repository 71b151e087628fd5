package binance

import (
	"errors"
	"slices"
	"strings"

	"spot-sim/internal/core"
)

const (
	apiCodeInvalidSymbol    = -1121
	apiCodeInvalidListenKey = -1125
	apiCodeNewOrderRejected = -2010
	apiCodeCancelRejected   = -2011
	apiCodeNoSuchOrder      = -2013
)

// apiCodeKinds holds codes that mean one thing whatever the message says.
var apiCodeKinds = map[int]error{
	apiCodeInvalidSymbol:    core.ErrUnknownSymbol,
	apiCodeInvalidListenKey: core.ErrInvalidListenKey,
	apiCodeCancelRejected:   core.ErrOrderNotFound,
	apiCodeNoSuchOrder:      core.ErrOrderNotFound,
}

// apiMessageKinds is keyed by lower-cased message. -2010 in particular is
// reused for many reasons and only the message tells them apart.
var apiMessageKinds = map[string]error{
	"invalid symbol.":                                        core.ErrUnknownSymbol,
	"this listenkey does not exist.":                         core.ErrInvalidListenKey,
	"duplicate order sent.":                                  core.ErrDuplicateOrder,
	"account has insufficient balance for requested action.": core.ErrInsufficientBalance,
	"balance is insufficient.":                               core.ErrInsufficientBalance,
	"unknown order sent.":                                    core.ErrOrderNotFound,
	"order does not exist.":                                  core.ErrOrderNotFound,
	"order was canceled or expired.":                         core.ErrOrderExpired,
}

func wrapAPIError(code int, msg string) error {
	return classifyAPIError(APIError{Code: code, Msg: msg})
}

// classifyAPIError joins the raw APIError with the core sentinels it maps
// to, so callers can match on either.
func classifyAPIError(apiErr APIError) error {
	kinds := apiErrorKinds(apiErr)
	if len(kinds) == 0 {
		return apiErr
	}
	return errors.Join(append([]error{apiErr}, kinds...)...)
}

// apiErrorKinds lists the message match first, then the code match. An
// order rejection nothing else explains is ErrOrderRejected.
func apiErrorKinds(apiErr APIError) []error {
	var kinds []error
	add := func(kind error) {
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	if kind, ok := apiMessageKinds[strings.ToLower(strings.TrimSpace(apiErr.Msg))]; ok {
		add(kind)
	}
	if kind, ok := apiCodeKinds[apiErr.Code]; ok {
		add(kind)
	}
	if apiErr.Code == apiCodeNewOrderRejected && len(kinds) == 0 {
		add(core.ErrOrderRejected)
	}
	return kinds
}

func AsAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if err == nil || !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}
