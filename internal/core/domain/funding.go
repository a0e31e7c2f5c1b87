package domain

// ReceiptStatus is the outcome of one funding execution submission.
type ReceiptStatus string

const (
	ReceiptConfirmed        ReceiptStatus = "confirmed"
	ReceiptReverted         ReceiptStatus = "reverted"
	ReceiptSubmissionFailed ReceiptStatus = "submission_failed"
)

// FundingReceipt describes a mined (or failed) executeFundingRateMechanism call.
type FundingReceipt struct {
	Status      ReceiptStatus
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// Confirmed reports whether the transaction succeeded on chain.
func (r FundingReceipt) Confirmed() bool {
	return r.Status == ReceiptConfirmed
}
