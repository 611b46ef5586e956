package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Node configures one authority process.
type Node struct {
	// AuthorityIndex is this node's position in the committee file.
	AuthorityIndex uint32
	// CommitteeFile points at the JSON committee produced by cmd/keygen.
	CommitteeFile string
	// DataDir holds the pebble store and the commit WAL.
	DataDir string
	// SyncInterval paces missing-ancestor fetch requests while blocks are
	// suspended.
	SyncInterval time.Duration
	// CommitDepth bounds the buffered commit output channel.
	CommitDepth int
}

type P2P struct {
	ListenAddr string
	Bootstrap  []string
}

type API struct {
	Addr string
}

type Config struct {
	Node Node
	P2P  P2P
	API  API
	// LogFile tees structured logs to a file when set.
	LogFile string
}

func Default() Config {
	return Config{
		Node: Node{
			AuthorityIndex: 0,
			CommitteeFile:  "committee.json",
			DataDir:        "data",
			SyncInterval:   500 * time.Millisecond,
			CommitDepth:    128,
		},
		P2P: P2P{
			ListenAddr: "/ip4/0.0.0.0/tcp/9000",
		},
		API: API{
			Addr: ":8080",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and the
// environment. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DAGWAVE_AUTHORITY_INDEX"); v != "" {
		if i, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Node.AuthorityIndex = uint32(i)
		}
	}
	cfg.Node.CommitteeFile = getEnv("DAGWAVE_COMMITTEE_FILE", cfg.Node.CommitteeFile)
	cfg.Node.DataDir = getEnv("DAGWAVE_DATA_DIR", cfg.Node.DataDir)
	if v := os.Getenv("DAGWAVE_SYNC_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Node.SyncInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("DAGWAVE_COMMIT_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Node.CommitDepth = n
		}
	}

	cfg.P2P.ListenAddr = getEnv("DAGWAVE_P2P_LISTEN", cfg.P2P.ListenAddr)
	if v := os.Getenv("DAGWAVE_P2P_BOOTSTRAP"); v != "" {
		cfg.P2P.Bootstrap = strings.Split(v, ",")
	}

	cfg.API.Addr = getEnv("DAGWAVE_API_ADDR", cfg.API.Addr)
	cfg.LogFile = getEnv("DAGWAVE_LOG_FILE", cfg.LogFile)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
