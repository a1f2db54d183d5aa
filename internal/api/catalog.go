package api

import (
	"time"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/ledger"
	"github.com/davidahmann/attest/internal/objects"
	"github.com/davidahmann/attest/internal/policy"
)

// PublishUnits stores each unit's canonical document in the object store and
// records the version in the ledger, so cards can reference the exact unit a
// receipt was produced by. Either destination may be nil.
func PublishUnits(objs objects.Store, store ledger.Store, units ...policy.Unit) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, u := range units {
		doc, err := crypto.CanonicalBytes(policy.Document(u))
		if err != nil {
			return err
		}
		if objs != nil {
			if _, err := objs.Put(doc); err != nil {
				return err
			}
		}
		if store != nil {
			if err := store.PutUnitVersion(ledger.UnitVersionRecord{
				UnitHash:  u.Hash,
				UnitID:    u.ID,
				SpecText:  string(doc),
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
