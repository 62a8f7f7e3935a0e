package app

// Operation status values recorded in the operations table.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RunOperation tracks a CLI command that may change replication state.
// Operations are created in memory with ID=0. Only mutating commands
// persist them (giving them an auto-increment ID from the database).
type RunOperation struct {
	ID         int64
	RunID      string
	Operation  string
	Parameters string
	Status     string
}

// NewRunOperation creates a new in-memory operation.
func NewRunOperation(runID, operation, parameters string) *RunOperation {
	return &RunOperation{
		RunID:      runID,
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *RunOperation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed when err is non-nil and returns err.
func (op *RunOperation) Fail(err error) error {
	if err != nil {
		op.Status = StatusError
	}
	return err
}
