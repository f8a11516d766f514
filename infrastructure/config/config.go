// Package config loads the registry node's configuration from environment
// variables: a struct-of-settings + Load shape retargeted from DynamoDB/
// Lambda settings to the Raft/cluster settings a node needs. Parsing uses
// caarlos0/env/v11 rather than hand-rolled getEnv/getEnvBool helpers,
// matching emergent-company/server-go's use of the same library for the
// same purpose.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is every environment-variable-recognised option a node needs,
// plus the relational adapter's CONNECTION_STR/ENTITY_TABLE/EDGE_TABLE.
// CLI flags (--seeds, --learner, --load-db, --write-db, --no-init) bind to
// the same fields in cmd/server, overriding whatever the environment set.
type Config struct {
	NodeID        string `env:"NODE_ID,required"`
	ServerAddr    string `env:"SERVER_ADDR" envDefault:":8090"`
	ExtServerAddr string `env:"EXT_SERVER_ADDR" envDefault:"127.0.0.1:8091"`
	APIBase       string `env:"API_BASE" envDefault:"/"`

	Seeds   []string `env:"SEEDS" envSeparator:","`
	Learner bool     `env:"LEARNER" envDefault:"false"`
	LoadDB  bool     `env:"LOAD_DB" envDefault:"false"`
	WriteDB bool     `env:"WRITE_DB" envDefault:"false"`
	NoInit  bool     `env:"NO_INIT" envDefault:"false"`

	JournalDir     string `env:"JOURNAL_DIR" envDefault:"./data/journal"`
	SnapshotDir    string `env:"SNAPSHOT_DIR" envDefault:"./data/snapshot"`
	SnapshotRetain int    `env:"SNAPSHOT_RETAIN" envDefault:"2"`
	InstancePrefix string `env:"INSTANCE_PREFIX" envDefault:"registry"`
	ManagementCode string `env:"MANAGEMENT_CODE"`

	HeartbeatTimeout   time.Duration `env:"RAFT_HEARTBEAT_TIMEOUT" envDefault:"1s"`
	ElectionTimeout    time.Duration `env:"RAFT_ELECTION_TIMEOUT" envDefault:"1s"`
	CommitTimeout      time.Duration `env:"RAFT_COMMIT_TIMEOUT" envDefault:"50ms"`
	LeaderLeaseTimeout time.Duration `env:"RAFT_LEADER_LEASE_TIMEOUT" envDefault:"500ms"`

	ConnectionStr string `env:"CONNECTION_STR"`
	EntityTable   string `env:"ENTITY_TABLE" envDefault:"entities"`
	EdgeTable     string `env:"EDGE_TABLE" envDefault:"edges"`

	// ClusterConfigFile, when set, names a YAML file holding a static seed
	// list and management code; infrastructure/config.Watcher reloads it on
	// change without a restart.
	ClusterConfigFile string `env:"CLUSTER_CONFIG_FILE"`

	CompactionSchedule string `env:"COMPACTION_SCHEDULE" envDefault:"@hourly"`

	// TracingEndpoint, when set, is an OTLP/gRPC collector address; cmd/server
	// initializes distributed tracing against it and leaves tracing disabled
	// otherwise.
	TracingEndpoint string `env:"TRACING_ENDPOINT"`
	Environment     string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
