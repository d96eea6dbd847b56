package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration of the Bastion service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Engine     *Engine
	Protection *Protection
	Log        *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds the HTTP listener configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds external data source configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds the audit-ledger database configuration.
// An empty Source disables the ledger.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds the shared counter store configuration.
// An empty Addr is a supported configuration: every component then runs
// on its in-process fallback store.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
	// OpTimeout bounds every store round trip made by the protection
	// layer; a timed-out call degrades to the in-memory fallback.
	OpTimeout *durationpb.Duration
}

// Engine holds the downstream simulation engine configuration.
type Engine struct {
	BaseURL string
	// ProxyURL routes engine traffic through a socks5:// or http(s)://
	// egress proxy when set.
	ProxyURL string
	Timeout  *durationpb.Duration
}

// Protection groups the admission-control configuration. All values are
// supplied at startup; nothing here mutates at runtime.
type Protection struct {
	RateLimit    *Protection_RateLimit
	Breaker      *Protection_Breaker
	Queue        *Protection_Queue
	Backpressure *Protection_Backpressure
	Validation   *Protection_Validation
	Webhook      *Protection_Webhook
}

// Protection_Webhook holds the protection-event notification endpoint.
// An empty URL disables delivery.
type Protection_Webhook struct {
	URL     string
	Timeout *durationpb.Duration
}

// Protection_Quota is one fixed-window quota: Limit requests per Window.
type Protection_Quota struct {
	Limit  int64
	Window *durationpb.Duration
}

// Protection_RateLimit holds per-scope quotas and the violation-to-block
// escalation policy.
type Protection_RateLimit struct {
	IP   *Protection_Quota
	User *Protection_Quota
	// Endpoint maps endpoint path to its quota; endpoints without an
	// entry have no per-endpoint limit.
	Endpoint map[string]*Protection_Quota

	// ViolationThreshold violations within ViolationWindow create a
	// block entry lasting BlockDuration.
	ViolationThreshold int
	ViolationWindow    *durationpb.Duration
	BlockDuration      *durationpb.Duration
}

// Protection_Breaker holds circuit breaker tuning shared by all named
// downstreams.
type Protection_Breaker struct {
	FailureThreshold int
	CoolDown         *durationpb.Duration
	CallTimeout      *durationpb.Duration
}

// Protection_Queue holds the bounded FIFO configuration.
type Protection_Queue struct {
	Capacity int
	MaxWait  *durationpb.Duration
	// DrainRate is the release rate of queued requests per second.
	DrainRate float64
}

// Protection_Backpressure holds the shedding thresholds. Enter must be
// strictly greater than Exit to produce hysteresis.
type Protection_Backpressure struct {
	EnterThreshold float64
	ExitThreshold  float64
	MaxInFlight    int
	// StoreLatencyBudget normalizes the store latency component of the
	// load score.
	StoreLatencyBudget *durationpb.Duration
}

// Protection_Validation holds the structural request checks.
type Protection_Validation struct {
	MaxContentLength int64
	// AllowedContentTypes maps endpoint path to its content-type
	// allow-list; the "*" entry is the default list.
	AllowedContentTypes map[string][]string
	MaxJSONDepth        int
	MaxJSONElements     int
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
