package authz

import (
	"context"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/sukryu/gorm-oso/internal/config"
	"github.com/sukryu/gorm-oso/pkg/binding"
	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/client/openfga"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

var (
	mu     sync.Mutex
	global *Authorizer
)

type initOptions struct {
	filterer   client.RowFilterer
	clientCfg  *client.Config
	config     *config.Config
	configPath string
	logger     *slog.Logger
}

type InitOption func(*initOptions)

// WithRowFilterer skips client construction and uses f.
func WithRowFilterer(f client.RowFilterer) InitOption {
	return func(o *initOptions) { o.filterer = f }
}

// WithClientConfig builds the HTTP client from cfg. DataBindings is
// filled in from the compiled registry.
func WithClientConfig(cfg client.Config) InitOption {
	return func(o *initOptions) { o.clientCfg = &cfg }
}

func WithConfig(cfg *config.Config) InitOption {
	return func(o *initOptions) { o.config = cfg }
}

func WithConfigFile(path string) InitOption {
	return func(o *initOptions) { o.configPath = path }
}

func WithInitLogger(l *slog.Logger) InitOption {
	return func(o *initOptions) { o.logger = l }
}

// Init compiles the registry and installs the process-wide Authorizer.
// Service settings default to OSO_URL and OSO_API_KEY. It may only
// succeed once per process.
func Init(db *gorm.DB, reg *binding.Registry, opts ...InitOption) (*Authorizer, error) {
	mu.Lock()
	defer mu.Unlock()

	if global != nil {
		return nil, errors.ErrAlreadyInitialized
	}

	o := &initOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	bindings, err := binding.Compile(db, reg)
	if err != nil {
		return nil, err
	}

	filterer := o.filterer
	if filterer == nil {
		if filterer, err = newFilterer(bindings, o); err != nil {
			return nil, err
		}
	}

	a, err := New(db, bindings, filterer, WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	global = a
	o.logger.Info("authorization initialized", "resources", len(bindings.Resources()), "facts", len(bindings.Config().Facts))
	return a, nil
}

func newFilterer(bindings *binding.Bindings, o *initOptions) (client.RowFilterer, error) {
	doc, err := bindings.Document()
	if err != nil {
		return nil, errors.ErrInternal.WithReasonf("render binding document: %v", err)
	}

	if o.clientCfg != nil {
		cfg := *o.clientCfg
		cfg.DataBindings = doc
		if cfg.Logger == nil {
			cfg.Logger = o.logger
		}
		return client.New(cfg)
	}

	cfg := o.config
	if cfg == nil {
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, errors.ErrInvalidConfig.WithReason(err.Error())
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Backend == config.BackendOpenFGA {
		return openfga.New(openfga.Config{
			APIURL:   cfg.OpenFGA.APIURL,
			StoreID:  cfg.OpenFGA.StoreID,
			ModelID:  cfg.OpenFGA.ModelID,
			APIToken: cfg.OpenFGA.APIToken,
			Bindings: bindings.Config(),
		})
	}
	return client.New(client.Config{
		URL:          cfg.URL,
		APIKey:       cfg.APIKey,
		DataBindings: doc,
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		Burst:        cfg.Burst,
		Logger:       o.logger,
	})
}

// Default returns the Authorizer installed by Init.
func Default() (*Authorizer, error) {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return nil, errors.ErrNotInitialized
	}
	return global, nil
}

// Session binds a context and the process-wide Authorizer to a database
// handle.
type Session struct {
	ctx   context.Context
	db    *gorm.DB
	authz *Authorizer
}

func NewSession(ctx context.Context, db *gorm.DB) (*Session, error) {
	a, err := Default()
	if err != nil {
		return nil, err
	}
	return &Session{ctx: ctx, db: db.WithContext(ctx), authz: a}, nil
}

func (s *Session) DB() *gorm.DB { return s.db }

func (s *Session) Query(models ...any) *Query {
	return s.authz.Query(s.db, models...)
}

func (s *Session) Authorize(q *gorm.DB, actor client.Value, action string) (*gorm.DB, error) {
	return s.authz.Authorize(s.ctx, q, actor, action)
}

func (s *Session) Select(sel Select, actor client.Value, action string) (Select, error) {
	return sel.Authorize(s.ctx, s.authz, actor, action)
}

// Find executes sel within the session.
func (s *Session) Find(sel Select, dest any) error {
	return sel.Find(s.ctx, s.db, dest)
}
