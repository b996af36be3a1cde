package domain

// MasterOrder is a master-side executed order as reported to the
// replication engine.
type MasterOrder struct {
	ID            string // master operation id
	MasterID      string // master account id
	Instrument    string
	ContractType  string
	Duration      int
	DurationUnit  string
	Barrier       string // optional
	Stake         float64
	MasterBalance float64 // master's balance when the order was placed
}

// PercentOfBalance returns how much of the master's balance the order
// consumed, in percent. Zero when the balance is unknown.
func (m *MasterOrder) PercentOfBalance() float64 {
	if m.MasterBalance <= 0 {
		return 0
	}
	return m.Stake / m.MasterBalance * 100
}

// MasterSettlement is the final outcome of a master order, fanned out
// to every pending replicated operation that references it.
type MasterSettlement struct {
	MasterID          string
	MasterOperationID string
	Result            OperationResult // win or loss
	Profit            float64         // master's realized profit (negative on loss)
	Stake             float64         // master's stake, for proportional scaling
}
