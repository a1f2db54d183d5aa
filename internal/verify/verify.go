// Package verify checks receipt cards. It depends only on the card schema and
// crypto primitives so it can run wherever a card is received.
package verify

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/davidahmann/attest/internal/crypto"
	"github.com/davidahmann/attest/pkg/types"
)

const (
	DefaultHost           = "attest.dev"
	DefaultPortableScheme = "attest"
)

type Status string

const (
	Pass Status = "pass"
	Warn Status = "warn"
	Fail Status = "fail"
)

const (
	CodeBadKind             = "BAD_KIND"
	CodeBadRealm            = "BAD_REALM"
	CodeBadDecision         = "BAD_DECISION"
	CodeBadLink             = "BAD_LINK"
	CodeBadSeal             = "BAD_SEAL"
	CodeBadOutputCID        = "BAD_OUTPUT_CID"
	CodeHashChainEmpty      = "HASH_CHAIN_EMPTY"
	CodeHashChainIncomplete = "HASH_CHAIN_INCOMPLETE"
	CodePOIMissing          = "POI_MISSING"
	CodeRefMissingCID       = "REF_MISSING_CID"
	CodeRefNoHrefs          = "REF_NO_HREFS"
	CodePrivateNoPortable   = "PRIVATE_NO_PORTABLE"
	CodePublicNoPortable    = "PUBLIC_NO_CANONICAL_OR_PORTABLE"
)

type Result struct {
	Status Status `json:"status"`
	Code   string `json:"code,omitempty"`
}

func (r Result) OK() bool { return r.Status != Fail }

// Options names the deployment the card must belong to. Zero values take the
// defaults.
type Options struct {
	Host           string
	Realm          string
	PortableScheme string
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Realm == "" {
		o.Realm = types.CardRealm
	}
	if o.PortableScheme == "" {
		o.PortableScheme = DefaultPortableScheme
	}
	return o
}

var cidPattern = regexp.MustCompile(`^cid:b3:[0-9a-f]{16,}$`)

type Verifier struct {
	opts     Options
	link     *regexp.Regexp
	registry *regexp.Regexp
	portable *regexp.Regexp
}

func New(opts Options) *Verifier {
	opts = opts.withDefaults()
	host := regexp.QuoteMeta(opts.Host)
	return &Verifier{
		opts:     opts,
		link:     regexp.MustCompile(`^https://cert\.` + host + `/r/b3:[0-9a-f]{16,}$`),
		registry: regexp.MustCompile(`^https://registry\.` + host + `/v1/objects/`),
		portable: regexp.MustCompile(`^` + regexp.QuoteMeta(opts.PortableScheme) + `://objects/`),
	}
}

// Card runs the structural checks with the given options.
func Card(card types.Card, opts Options) Result {
	return New(opts).Card(card)
}

// Card checks a card in a fixed order and reports the first failure. Without
// failures, the first portability warning downgrades the result to Warn.
func (v *Verifier) Card(card types.Card) Result {
	if card.Kind != types.CardKind {
		return failed(CodeBadKind)
	}
	if card.Realm != v.opts.Realm {
		return failed(CodeBadRealm)
	}
	switch card.Decision {
	case types.CardACK, types.CardASK, types.CardNACK, types.CardRunning:
	default:
		return failed(CodeBadDecision)
	}
	if !v.link.MatchString(card.Links.CardURL) {
		return failed(CodeBadLink)
	}
	seal := card.Proof.Seal
	if seal.Alg != crypto.SealAlg || seal.Kid == "" || seal.Sig == "" {
		return failed(CodeBadSeal)
	}
	if !cidPattern.MatchString(card.OutputCID) {
		return failed(CodeBadOutputCID)
	}
	if len(card.Proof.HashChain) == 0 {
		return failed(CodeHashChainEmpty)
	}
	if !hasOutputStep(card) {
		return failed(CodeHashChainIncomplete)
	}
	if card.Decision == types.CardASK || card.Decision == types.CardNACK {
		if present, _ := card.POI["present"].(bool); !present {
			return failed(CodePOIMissing)
		}
	}

	warning := ""
	for _, ref := range card.Refs {
		if !cidPattern.MatchString(ref.CID) {
			return failed(CodeRefMissingCID)
		}
		if len(ref.Hrefs) == 0 {
			return failed(CodeRefNoHrefs)
		}
		if warning != "" || v.anyPortable(ref.Hrefs) {
			continue
		}
		if isPrivate(ref) {
			warning = CodePrivateNoPortable
		} else {
			warning = CodePublicNoPortable
		}
	}
	if warning != "" {
		return Result{Status: Warn, Code: warning}
	}
	return Result{Status: Pass}
}

// Portable reports whether href points at the canonical registry or the
// internal object scheme.
func (v *Verifier) Portable(href string) bool {
	return v.registry.MatchString(href) || v.portable.MatchString(href)
}

func (v *Verifier) anyPortable(hrefs []string) bool {
	for _, h := range hrefs {
		if v.Portable(h) {
			return true
		}
	}
	return false
}

func isPrivate(ref types.RefItem) bool {
	if ref.Private != nil && *ref.Private {
		return true
	}
	return strings.Contains(strings.ToLower(ref.Kind), "private")
}

func hasOutputStep(card types.Card) bool {
	for _, step := range card.Proof.HashChain {
		if step.Kind == types.StepOutput && step.CID == card.OutputCID {
			return true
		}
	}
	return false
}

func failed(code string) Result {
	return Result{Status: Fail, Code: code}
}

// ParseCard decodes a card. Malformed JSON, duplicate keys and fields of the
// wrong type are errors; missing fields are left to Card to report.
func ParseCard(data []byte) (types.Card, error) {
	doc, err := crypto.DecodeJSON(data)
	if err != nil {
		return types.Card{}, fmt.Errorf("%w: %v", ErrMalformedCard, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return types.Card{}, fmt.Errorf("%w: expected object", ErrMalformedCard)
	}
	var card types.Card
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&card); err != nil {
		return types.Card{}, fmt.Errorf("%w: %v", ErrMalformedCard, err)
	}
	return card, nil
}

// SealBytes returns the bytes a seal signs: the NFC canonical card with
// seal.sig blanked.
func SealBytes(card types.Card) ([]byte, error) {
	card.Proof.Seal.Sig = ""
	raw, err := json.Marshal(card)
	if err != nil {
		return nil, err
	}
	doc, err := crypto.DecodeJSON(raw)
	if err != nil {
		return nil, err
	}
	return crypto.CanonicalBytesNFC(doc)
}

// Seal verifies the Ed25519 signature over the BLAKE3 digest of SealBytes.
// It is independent of Card; callers should require both.
func Seal(card types.Card, pub ed25519.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(card.Proof.Seal.Sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	msg, err := SealBytes(card)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCard, err)
	}
	ok, err := crypto.VerifyEd25519(pub, crypto.DigestBytes(msg), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}
