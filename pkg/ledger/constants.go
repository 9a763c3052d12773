package ledger

const (
	operationCredit = "credit"
	operationDebit  = "debit"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultListEntriesLimit = 50
	maxListEntriesLimit     = 200
)
