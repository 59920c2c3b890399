package swap

import (
	"fmt"
	"math"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
)

// Fee model, in satoshis. The model is linear in input and output count so
// that both counterparties compute the same fee for the same transaction.
const (
	BaseFee   = 576 // one input, one output
	InputFee  = 444 // each additional input
	OutputFee = 102 // each additional output

	// FundOutputs is the output count of a funding transaction:
	// the contract output and the change output.
	FundOutputs = 2
)

// EstimateFee returns the fee for a transaction with the given input and
// output counts.
func EstimateFee(inputs, outputs int) (uint64, error) {
	if inputs < 1 || outputs < 1 {
		return 0, fmt.Errorf("%w: fee needs at least one input and one output, got %d/%d", ErrInvalidParameter, inputs, outputs)
	}
	return estimateFee(inputs, outputs), nil
}

func estimateFee(inputs, outputs int) uint64 {
	return BaseFee + uint64(inputs-1)*InputFee + uint64(outputs-1)*OutputFee
}

// SelectUTXOs walks utxos in order and stops at the first prefix whose total
// covers target plus the fee of spending that prefix into FundOutputs
// outputs. It returns the indices of the prefix and its total. When no
// prefix suffices, every index is returned and the total falls short.
func SelectUTXOs(utxos []backend.UTXO, target uint64) ([]int, uint64) {
	var (
		selected    []int
		accumulated uint64
	)
	for i, u := range utxos {
		selected = append(selected, i)
		if accumulated > math.MaxUint64-u.Amount {
			accumulated = math.MaxUint64
		} else {
			accumulated += u.Amount
		}
		if covers(accumulated, target, estimateFee(len(selected), FundOutputs)) {
			break
		}
	}
	return selected, accumulated
}

// covers reports accumulated >= target+fee without overflowing.
func covers(accumulated, target, fee uint64) bool {
	return accumulated >= target && accumulated-target >= fee
}
