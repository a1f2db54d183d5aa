package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/lib/pq"

	"github.com/davidahmann/attest/internal/ledger"
)

var errInvalidBody = errors.New("invalid body_json")

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	wrapped := &Tx{tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) PutKey(key ledger.KeyRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutKey(key) })
}

func (s *Store) GetKey(keyID string) (ledger.KeyRecord, bool) {
	return getKey(s.db, keyID)
}

func (s *Store) PutUnitVersion(unit ledger.UnitVersionRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutUnitVersion(unit) })
}

func (s *Store) GetUnitVersion(unitHash string) (ledger.UnitVersionRecord, bool) {
	return getUnitVersion(s.db, unitHash)
}

func (s *Store) PutReceipt(receipt ledger.ReceiptRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutReceipt(receipt) })
}

func (s *Store) GetReceipt(receiptID string) (ledger.ReceiptRecord, bool) {
	return getReceipt(s.db, receiptID)
}

func (s *Store) ListReceipts(unitID string, limit int) ([]ledger.ReceiptRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+receiptColumns+`
FROM attest_receipts
WHERE ($1 = '' OR unit_id = $1)
ORDER BY created_at DESC, receipt_id ASC
LIMIT $2`, unitID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.ReceiptRecord{}
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) PutKey(key ledger.KeyRecord) error {
	_, err := t.tx.Exec(
		`INSERT INTO attest_keys(key_id, public_key, created_at, rotated_at)
VALUES($1,$2,$3::timestamptz,$4::timestamptz)
ON CONFLICT(key_id) DO UPDATE SET rotated_at=excluded.rotated_at`,
		key.KeyID,
		key.PublicKey,
		key.CreatedAt,
		key.RotatedAt,
	)
	return err
}

func (t *Tx) GetKey(keyID string) (ledger.KeyRecord, bool) {
	return getKey(t.tx, keyID)
}

func (t *Tx) PutUnitVersion(unit ledger.UnitVersionRecord) error {
	_, err := t.tx.Exec(
		`INSERT INTO attest_unit_versions(unit_hash, unit_id, spec_text, created_at)
VALUES($1,$2,$3,$4::timestamptz)
ON CONFLICT(unit_hash) DO NOTHING`,
		unit.UnitHash, unit.UnitID, unit.SpecText, unit.CreatedAt,
	)
	return err
}

func (t *Tx) GetUnitVersion(unitHash string) (ledger.UnitVersionRecord, bool) {
	return getUnitVersion(t.tx, unitHash)
}

func (t *Tx) PutReceipt(receipt ledger.ReceiptRecord) error {
	if !json.Valid(receipt.BodyJSON) {
		return errInvalidBody
	}
	var keyID *string
	if receipt.KeyID != "" {
		keyID = &receipt.KeyID
	}
	_, err := t.tx.Exec(
		`INSERT INTO attest_receipts(receipt_id, unit_id, unit_hash, decision, input_cid, output_cid, key_id, signed, created_at, body_json)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9::timestamptz,$10::jsonb)
ON CONFLICT(receipt_id) DO NOTHING`,
		receipt.ReceiptID,
		receipt.UnitID,
		receipt.UnitHash,
		receipt.Decision,
		receipt.InputCID,
		receipt.OutputCID,
		keyID,
		receipt.Signed,
		receipt.CreatedAt,
		string(receipt.BodyJSON),
	)
	return err
}

func (t *Tx) GetReceipt(receiptID string) (ledger.ReceiptRecord, bool) {
	return getReceipt(t.tx, receiptID)
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const receiptColumns = `receipt_id, unit_id, unit_hash, decision, input_cid, output_cid, key_id, signed, created_at::text, body_json::text`

func getKey(q queryer, keyID string) (ledger.KeyRecord, bool) {
	var rec ledger.KeyRecord
	row := q.QueryRow(`SELECT key_id, public_key, created_at::text, rotated_at::text FROM attest_keys WHERE key_id = $1`, keyID)
	var rotated *string
	if err := row.Scan(&rec.KeyID, &rec.PublicKey, &rec.CreatedAt, &rotated); err != nil {
		return ledger.KeyRecord{}, false
	}
	rec.RotatedAt = rotated
	return rec, true
}

func getUnitVersion(q queryer, unitHash string) (ledger.UnitVersionRecord, bool) {
	var rec ledger.UnitVersionRecord
	row := q.QueryRow(`SELECT unit_hash, unit_id, spec_text, created_at::text FROM attest_unit_versions WHERE unit_hash = $1`, unitHash)
	if err := row.Scan(&rec.UnitHash, &rec.UnitID, &rec.SpecText, &rec.CreatedAt); err != nil {
		return ledger.UnitVersionRecord{}, false
	}
	return rec, true
}

func getReceipt(q queryer, receiptID string) (ledger.ReceiptRecord, bool) {
	row := q.QueryRow(`SELECT `+receiptColumns+` FROM attest_receipts WHERE receipt_id = $1`, receiptID)
	rec, err := scanReceipt(row)
	if err != nil {
		return ledger.ReceiptRecord{}, false
	}
	return rec, true
}

func scanReceipt(s scanner) (ledger.ReceiptRecord, error) {
	var rec ledger.ReceiptRecord
	var keyID sql.NullString
	var body string
	if err := s.Scan(&rec.ReceiptID, &rec.UnitID, &rec.UnitHash, &rec.Decision, &rec.InputCID, &rec.OutputCID, &keyID, &rec.Signed, &rec.CreatedAt, &body); err != nil {
		return ledger.ReceiptRecord{}, err
	}
	rec.KeyID = keyID.String
	rec.BodyJSON = []byte(body)
	return rec, nil
}
