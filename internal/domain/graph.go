package domain

import "time"

// Graph node types.
const (
	NodeAccount  = "account"
	NodeDevice   = "device"
	NodeIP       = "ip"
	NodeAsset    = "asset"
	NodeSecurity = "security"
)

// Graph edge types.
const (
	EdgeFlagged       = "flagged"
	EdgeFlaggedDevice = "flagged_device"
	EdgeUsesDevice    = "uses_device"
	EdgeFromIP        = "from_ip"
	EdgeTrades        = "trades"
)

// SecurityNodeID is the sentinel node that flagged entities hang off.
const SecurityNodeID = "SECURITY_AI"

// GraphNode is a snapshot of one graph vertex.
type GraphNode struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Risk        float64           `json:"risk"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Connections int               `json:"activity"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
}

// EdgeSample is a bounded transaction summary attached to an edge.
type EdgeSample struct {
	TradeID string  `json:"trade_id,omitempty"`
	Amount  float64 `json:"amount"`
	Risk    float64 `json:"risk"`
	Type    string  `json:"type,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// GraphEdge is a snapshot of one undirected edge.
type GraphEdge struct {
	Source       string       `json:"source"`
	Target       string       `json:"target"`
	Type         string       `json:"type"`
	Weight       float64      `json:"weight"`
	Transactions []EdgeSample `json:"transactions,omitempty"`
}

// GraphView is the visualization payload.
type GraphView struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphEdge `json:"links"`
}

// RiskDistribution buckets account nodes by risk.
type RiskDistribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// GraphStats summarizes the relationship graph.
type GraphStats struct {
	TotalNodes       int              `json:"totalNodes"`
	TotalEdges       int              `json:"totalEdges"`
	ActiveRings      int              `json:"activeRings"`
	RiskDistribution RiskDistribution `json:"riskDistribution"`
	TotalVolume      float64          `json:"totalVolume"`
	BlockedVolume    float64          `json:"blockedVolume"`
	AutoApprovalRate float64          `json:"autoApprovalRate"`
}

// Ring is a group of accounts suspected of coordinated fraud.
type Ring struct {
	RingID      string    `json:"ring_id"`
	Members     []string  `json:"members"`
	MemberCount int       `json:"member_count"`
	TotalVolume float64   `json:"total_volume"`
	AvgRisk     float64   `json:"avg_risk"`
	FraudType   string    `json:"fraud_type"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Ring fraud type for heuristic groups.
const FraudSuspectedRing = "SUSPECTED_RING"
