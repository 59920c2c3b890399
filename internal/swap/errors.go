package swap

import "errors"

// Swap errors
var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrState             = errors.New("invalid transaction state")
	ErrContractNotFound  = errors.New("contract output not found")
	ErrEnvelopeFormat    = errors.New("invalid envelope")
)

// ProviderError carries a failure from a ledger-state provider. The
// provider's message is reported unchanged.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func providerError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Op: op, Err: err}
}
