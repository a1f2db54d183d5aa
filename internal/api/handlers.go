package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/davidahmann/attest/internal/auth"
	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/internal/engine"
	"github.com/davidahmann/attest/internal/ledger"
	"github.com/davidahmann/attest/internal/objects"
	"github.com/davidahmann/attest/internal/policy"
	"github.com/davidahmann/attest/internal/verify"
	"github.com/davidahmann/attest/pkg/types"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

type Executor interface {
	Execute(ctx context.Context, unitID string, input any, mode *types.Mode) (types.ExecutionReceipt, error)
}

type UnitLister interface {
	List() []policy.Unit
}

// KeyResolver finds the public half of a signing key by id.
// crypto.KeyManager implements it.
type KeyResolver interface {
	PublicKey(keyID string) (ed25519.PublicKey, bool)
}

type CardSettings struct {
	Host           string
	Realm          string
	RegistryBase   string
	PortableScheme string
}

type Handler struct {
	Auth    auth.Authenticator
	Engine  Executor
	Units   UnitLister
	Store   ledger.Store
	Objects objects.Store
	Signer  ledger.Signer
	Keys    KeyResolver
	Card    CardSettings
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

type ExecuteRequest struct {
	Input json.RawMessage `json:"input"`
	Mode  *types.Mode     `json:"mode,omitempty"`
}

type ExecuteResponse struct {
	Receipt types.ExecutionReceipt `json:"receipt"`
	Card    types.Card             `json:"card"`
}

type UnitSummary struct {
	ID              string         `json:"id"`
	Name            string         `json:"name,omitempty"`
	Hash            string         `json:"hash"`
	Rules           []string       `json:"rules"`
	Wiring          string         `json:"wiring"`
	RequiredEffects []types.Effect `json:"required_effects"`
}

type VerifyResponse struct {
	Status verify.Status `json:"status"`
	Code   string        `json:"code,omitempty"`
	Seal   string        `json:"seal"`
}

func (h *Handler) ListUnits(w http.ResponseWriter, _ *http.Request) {
	if h.Units == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "units not configured"})
		return
	}
	out := []UnitSummary{}
	for _, u := range h.Units.List() {
		out = append(out, UnitSummary{
			ID:              u.ID,
			Name:            u.Name,
			Hash:            u.Hash,
			Rules:           u.RuleIDs(),
			Wiring:          string(u.Wiring.Kind),
			RequiredEffects: u.RequiredEffects,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": out})
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "engine not configured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}
	var req ExecuteRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Input) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "input is required"})
		return
	}
	input, err := crypto.DecodeJSON(req.Input)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid input: " + err.Error()})
		return
	}
	if req.Mode != nil {
		for _, e := range req.Mode.Effects {
			if _, err := types.ParseEffect(string(e)); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
		}
	}

	receipt, err := h.Engine.Execute(r.Context(), chi.URLParam(r, "unitID"), input, req.Mode)
	switch {
	case errors.Is(err, engine.ErrUnitNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, engine.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	card, err := h.card(receipt)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{Receipt: receipt, Card: card})
}

func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, ok := h.lookup(w, chi.URLParam(r, "receiptID"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	receipt, ok := h.lookup(w, chi.URLParam(r, "receiptID"))
	if !ok {
		return
	}
	card, err := h.card(receipt)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}
	card, err := verify.ParseCard(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res := verify.Card(card, h.verifyOptions())
	resp := VerifyResponse{Status: res.Status, Code: res.Code, Seal: "unknown_key"}
	if pub, ok := h.publicKey(card.Proof.Seal.Kid); ok {
		resp.Seal = "valid"
		if err := verify.Seal(card, pub); err != nil {
			resp.Seal = "invalid"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	if h.Objects == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "object store not configured"})
		return
	}
	data, err := h.Objects.Get(chi.URLParam(r, "cid"))
	switch {
	case errors.Is(err, crypto.ErrInvalidCID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, objects.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "object not found"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) lookup(w http.ResponseWriter, receiptID string) (types.ExecutionReceipt, bool) {
	if h.Store == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "ledger not configured"})
		return types.ExecutionReceipt{}, false
	}
	rec, ok := h.Store.GetReceipt(receiptID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "receipt not found"})
		return types.ExecutionReceipt{}, false
	}
	receipt, err := rec.Receipt()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return types.ExecutionReceipt{}, false
	}
	return receipt, true
}

func (h *Handler) card(r types.ExecutionReceipt) (types.Card, error) {
	opts := ledger.CardOptions{Host: h.Card.Host, Realm: h.Card.Realm}
	if h.Objects != nil && r.UnitHash != "" && h.Objects.Has(r.UnitHash) {
		opts.Refs = []types.RefItem{{
			Kind:      "unit.manifest",
			CID:       "cid:" + r.UnitHash,
			MediaType: "application/json",
			Hrefs:     objects.Hrefs(r.UnitHash, h.Card.RegistryBase, h.portableScheme()),
		}}
	}
	return ledger.MakeCard(r, h.Signer, opts)
}

func (h *Handler) publicKey(keyID string) (ed25519.PublicKey, bool) {
	if keyID == "" {
		return nil, false
	}
	if h.Keys != nil {
		if pub, ok := h.Keys.PublicKey(keyID); ok {
			return pub, true
		}
	}
	if h.Store != nil {
		if rec, ok := h.Store.GetKey(keyID); ok && len(rec.PublicKey) == ed25519.PublicKeySize {
			return ed25519.PublicKey(rec.PublicKey), true
		}
	}
	return nil, false
}

func (h *Handler) verifyOptions() verify.Options {
	return verify.Options{Host: h.Card.Host, Realm: h.Card.Realm, PortableScheme: h.Card.PortableScheme}
}

func (h *Handler) portableScheme() string {
	if h.Card.PortableScheme == "" {
		return verify.DefaultPortableScheme
	}
	return h.Card.PortableScheme
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
