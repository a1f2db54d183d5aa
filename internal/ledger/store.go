package ledger

// Store persists receipts together with the keys and unit versions needed
// to audit them later.
type Store interface {
	WithTx(fn func(Tx) error) error

	PutKey(key KeyRecord) error
	GetKey(keyID string) (KeyRecord, bool)

	PutUnitVersion(unit UnitVersionRecord) error
	GetUnitVersion(unitHash string) (UnitVersionRecord, bool)

	PutReceipt(receipt ReceiptRecord) error
	GetReceipt(receiptID string) (ReceiptRecord, bool)
	ListReceipts(unitID string, limit int) ([]ReceiptRecord, error)
}

type Tx interface {
	PutKey(key KeyRecord) error
	GetKey(keyID string) (KeyRecord, bool)

	PutUnitVersion(unit UnitVersionRecord) error
	GetUnitVersion(unitHash string) (UnitVersionRecord, bool)

	PutReceipt(receipt ReceiptRecord) error
	GetReceipt(receiptID string) (ReceiptRecord, bool)
}

type KeyRecord struct {
	KeyID     string
	PublicKey []byte
	CreatedAt string
	RotatedAt *string
}

type UnitVersionRecord struct {
	UnitHash  string
	UnitID    string
	SpecText  string
	CreatedAt string
}

// ReceiptRecord is a receipt plus the columns it is looked up by. Receipt ids
// are content derived, so the first write for an id wins.
type ReceiptRecord struct {
	ReceiptID string
	UnitID    string
	UnitHash  string
	Decision  string
	InputCID  string
	OutputCID string
	KeyID     string
	Signed    bool
	CreatedAt string
	BodyJSON  []byte
}
