package telescope

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	kafkaexport "3tcapital/telescope/internal/adapters/export/kafka"
	"3tcapital/telescope/internal/core/entry"
)

// DatabaseType names the driver family the host application talks to. It
// decides which query hook can be installed.
type DatabaseType string

const (
	Mongo    DatabaseType = "mongo"
	Postgres DatabaseType = "postgres"
	MySQL    DatabaseType = "mysql"
	SQLite   DatabaseType = "sqlite"
)

const (
	DefaultRoutePrefix           = "/telescope"
	DefaultResponseBodySizeLimit = 1000
	DefaultQueryResultSizeLimit  = 200
	DefaultAPITimeout            = 30 * time.Second
)

// ErrInvalidOptions wraps every validation failure returned by New.
var ErrInvalidOptions = errors.New("invalid telescope options")

// Options configures a Telescope instance. Zero values take the defaults
// documented on each field.
type Options struct {
	Storage      entry.Storage `validate:"required"`
	DatabaseType DatabaseType  `validate:"required,oneof=mongo postgres mysql sqlite"`

	// WatchedEntries defaults to every supported type.
	WatchedEntries []entry.Type `validate:"dive,oneof=requests exceptions queries"`
	// RoutePrefix defaults to /telescope.
	RoutePrefix        string `validate:"required,startswith=/"`
	CORSAllowedOrigins []string

	EnableQueryLogging bool
	// IgnoreCollections lists tables or collections whose queries are not
	// recorded. Telescope's own Mongo collection is always ignored.
	IgnoreCollections []string

	EnableFileReading bool
	// FileReadingEnvironments defaults to development and local.
	FileReadingEnvironments []string
	Environment             string

	IncludeCurlCommand  bool
	RecordMemoryUsage   bool
	RedactSensitiveData bool

	ResponseBodySizeLimit int `validate:"gte=0"`
	QueryResultSizeLimit  int `validate:"gte=0"`

	// UIDir serves the dashboard from disk instead of the embedded bundle.
	UIDir       string
	ProjectRoot string

	// Pruning runs only when both values are positive.
	PruneInterval time.Duration `validate:"gte=0"`
	PruneMaxAge   time.Duration `validate:"gte=0"`

	Workers      int           `validate:"gte=0"`
	QueueSize    int           `validate:"gte=0"`
	StoreTimeout time.Duration `validate:"gte=0"`
	APITimeout   time.Duration `validate:"gte=0"`

	// Kafka enables export of stored entries when brokers and topic are set.
	Kafka *kafkaexport.Config

	Logger *slog.Logger `validate:"-"`
}

func (o Options) withDefaults() Options {
	o.RoutePrefix = strings.TrimSpace(o.RoutePrefix)
	if o.RoutePrefix == "" {
		o.RoutePrefix = DefaultRoutePrefix
	}
	if len(o.RoutePrefix) > 1 {
		o.RoutePrefix = strings.TrimRight(o.RoutePrefix, "/")
	}
	if o.WatchedEntries == nil {
		o.WatchedEntries = entry.Supported()
	}
	if o.FileReadingEnvironments == nil {
		o.FileReadingEnvironments = []string{"development", "local"}
	}
	if o.Environment == "" {
		o.Environment = "development"
	}
	if o.ResponseBodySizeLimit == 0 {
		o.ResponseBodySizeLimit = DefaultResponseBodySizeLimit
	}
	if o.QueryResultSizeLimit == 0 {
		o.QueryResultSizeLimit = DefaultQueryResultSizeLimit
	}
	if o.APITimeout == 0 {
		o.APITimeout = DefaultAPITimeout
	}
	if len(o.CORSAllowedOrigins) == 0 {
		o.CORSAllowedOrigins = []string{"*"}
	}
	return o
}

var validate = validator.New()

// Validate reports the first invalid field of o.
func (o Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		if o.RoutePrefix == "/" {
			return fmt.Errorf("%w: RoutePrefix must not be the root path", ErrInvalidOptions)
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("%w: %s failed %s=%s", ErrInvalidOptions, fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("%w: %s failed %s", ErrInvalidOptions, fe.Namespace(), fe.Tag())
}

func (o Options) watches(t entry.Type) bool {
	for _, w := range o.WatchedEntries {
		if w == t {
			return true
		}
	}
	return false
}

func (o Options) kafkaEnabled() bool {
	return o.Kafka != nil && len(o.Kafka.Brokers) > 0 && o.Kafka.Topic != ""
}
