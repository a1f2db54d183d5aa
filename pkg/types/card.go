package types

const (
	CardKind  = "receipt.card.v1"
	CardRealm = "trust"
)

type CardDecision string

const (
	CardACK     CardDecision = "ACK"
	CardASK     CardDecision = "ASK"
	CardNACK    CardDecision = "NACK"
	CardRunning CardDecision = "RUNNING"
)

// ChainStep kinds.
const (
	StepInput  = "input"
	StepExec   = "exec"
	StepOutput = "output"
)

type Seal struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Sig string `json:"sig"`
}

type ChainStep struct {
	Kind string `json:"kind"`
	CID  string `json:"cid"`
}

type CardProof struct {
	Seal      Seal        `json:"seal"`
	HashChain []ChainStep `json:"hash_chain"`
}

type RefItem struct {
	Kind      string   `json:"kind"`
	CID       string   `json:"cid"`
	MediaType string   `json:"media_type"`
	Size      *uint64  `json:"size,omitempty"`
	Hrefs     []string `json:"hrefs"`
	Private   *bool    `json:"private,omitempty"`
}

type Links struct {
	URL     string `json:"url,omitempty"`
	CardURL string `json:"card_url,omitempty"`
}

// Card is the portable wire form of a receipt.
type Card struct {
	Kind      string         `json:"kind"`
	Realm     string         `json:"realm"`
	Decision  CardDecision   `json:"decision"`
	UnitID    string         `json:"unit_id,omitempty"`
	PolicyID  string         `json:"policy_id,omitempty"`
	OutputCID string         `json:"output_cid"`
	Proof     CardProof      `json:"proof"`
	POI       map[string]any `json:"poi,omitempty"`
	Refs      []RefItem      `json:"refs"`
	Links     Links          `json:"links"`
}
