package staking

import "errors"

var (
	ErrPoolNotFound            = errors.New("pool not found")
	ErrAlreadyExists           = errors.New("already exists")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrAlreadyStaked           = errors.New("user has already staked")
	ErrNothingStaked           = errors.New("user has nothing staked")
	ErrDurationNotMet          = errors.New("minimum staking duration not met")
	ErrInsufficientRewardFunds = errors.New("insufficient reward funds, wait for the pool to be funded or force redeem")
	ErrCalculation             = errors.New("calculation error")
	ErrTransferFailed          = errors.New("transfer failed")
	ErrPoolClosed              = errors.New("pool closed")
)

// Kind names an error class for callers that cannot use errors.Is, such as
// remote clients.
type Kind string

const (
	KindNone                    Kind = ""
	KindPoolNotFound            Kind = "PoolNotFound"
	KindAlreadyExists           Kind = "AlreadyExists"
	KindUnauthorized            Kind = "Unauthorized"
	KindInvalidArgument         Kind = "InvalidArgument"
	KindAlreadyStaked           Kind = "AlreadyStaked"
	KindNothingStaked           Kind = "NothingStaked"
	KindDurationNotMet          Kind = "DurationNotMet"
	KindInsufficientRewardFunds Kind = "InsufficientRewardFunds"
	KindCalculation             Kind = "CalculationError"
	KindTransferFailed          Kind = "TransferFailed"
	KindPoolClosed              Kind = "PoolClosed"
	KindInternal                Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrPoolNotFound, KindPoolNotFound},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrAlreadyStaked, KindAlreadyStaked},
	{ErrNothingStaked, KindNothingStaked},
	{ErrDurationNotMet, KindDurationNotMet},
	{ErrInsufficientRewardFunds, KindInsufficientRewardFunds},
	{ErrCalculation, KindCalculation},
	{ErrTransferFailed, KindTransferFailed},
	{ErrPoolClosed, KindPoolClosed},
}

// KindOf classifies err. Errors outside the staking set are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
