package core

import "errors"

var (
	// ErrInsufficientBalance indicates the free balance cannot cover the requested debit.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownAsset indicates an asset that is not held by the account.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrUnknownSymbol indicates a symbol missing from exchange metadata.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrNoMarketPrice indicates a market order could not be valued.
	ErrNoMarketPrice = errors.New("no market price")
	// ErrDuplicateOrder indicates the client order id has already been accepted before.
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrOrderNotFound indicates the order does not exist on exchange.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPending indicates the order already reached a terminal status.
	ErrOrderNotPending = errors.New("order not pending")
	// ErrSymbolMismatch indicates the order belongs to a different symbol.
	ErrSymbolMismatch = errors.New("symbol mismatch")
	// ErrOrderRejected indicates the order was rejected by exchange.
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderExpired indicates the order has expired on exchange.
	ErrOrderExpired = errors.New("order expired")
	// ErrInvalidListenKey indicates a user data stream that does not exist.
	ErrInvalidListenKey = errors.New("invalid listen key")
	// ErrChannelClosed indicates a push on a closed user data channel.
	ErrChannelClosed = errors.New("channel closed")
	ErrInvalidOrder  = errors.New("invalid order")
)
