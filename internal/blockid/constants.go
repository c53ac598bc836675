package blockid

// Allocation defaults
const (
	DefaultBlockSize    uint64 = 100
	DefaultSequenceName        = "default"
)

// Sequence store defaults
const (
	DefaultAppDir       = ".blockid"
	DefaultStoreKind    = "file"
	SequenceFileName    = "SEQUENCE.json"
	SequenceFileVersion = 1
	BoltFileName        = "sequence.db"
	BadgerDirName       = "badger"
	FirstBlockStart     = uint64(1)
)

// Log file defaults
const (
	DefaultLogDir        = "logs"
	DefaultLogFileName   = "blockid.log"
	DefaultLogMaxSize    = 100
	DefaultLogMaxBackups = 3
	DefaultLogLevel      = "info"
)

// HTTP service defaults
const (
	DefaultListenAddr = "127.0.0.1:8088"
	MinIDsPerRequest  = 1
	MaxIDsPerRequest  = 500
)

// Stress run defaults, mirroring the concurrent generation scenario.
const (
	DefaultBenchWorkers   = 12
	DefaultBenchIDs       = 5000
	DefaultBenchGapSlack  = 50
	DefaultRetryAttempts  = 3
	DefaultRetryInitialMs = 50
)
