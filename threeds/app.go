package threeds

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/alovak/threeds-flow/internal/expiry"
	"github.com/alovak/threeds-flow/internal/lock"
	"github.com/alovak/threeds-flow/internal/middleware"
	"github.com/alovak/threeds-flow/internal/providerapi"
	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"golang.org/x/exp/slog"
)

// App is the main application, it contains all the components of the threeds
// service and is responsible for starting and stopping them.
type App struct {
	srv      *http.Server
	wg       *sync.WaitGroup
	Addr     string
	logger   *slog.Logger
	config   *Config
	sdk      SDK
	mounts   []mount
	service  *Service
	queue    *QueueDispatcher
	closers  []io.Closer
	provider *Provider
}

type mount struct {
	prefix string
	routes func(chi.Router)
}

type AppOption func(*App)

// WithSDK sets the native 3DS SDK. Without one every native attempt falls
// back to the web flow.
func WithSDK(sdk SDK) AppOption {
	return func(a *App) { a.sdk = sdk }
}

// WithRoutes mounts extra routes under prefix, e.g. a provider simulator.
func WithRoutes(prefix string, routes func(chi.Router)) AppOption {
	return func(a *App) { a.mounts = append(a.mounts, mount{prefix: prefix, routes: routes}) }
}

func NewApp(logger *slog.Logger, config *Config, opts ...AppOption) *App {
	logger = logger.With(slog.String("app", "threeds"))

	if config == nil {
		config = DefaultConfig()
	}

	a := &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	repository, err := a.openRepository()
	if err != nil {
		return err
	}

	if a.config.ExpiryTZ != "" {
		if loc, err := time.LoadLocation(a.config.ExpiryTZ); err == nil {
			expiry.SetDefaultExpiryLocation(loc)
		} else {
			a.logger.Info("invalid ExpiryTZ; using default UTC", slog.String("tz", a.config.ExpiryTZ), slog.Any("err", err))
		}
	}

	var locker lock.Locker = lock.NewMemory()
	if a.config.RedisURL != "" {
		redisLocker, err := lock.NewRedisFromURL(context.Background(), a.config.RedisURL, a.config.LockPrefix)
		if err != nil {
			return fmt.Errorf("connecting redis: %w", err)
		}
		a.closers = append(a.closers, redisLocker)
		locker = redisLocker
	}

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}
	a.Addr = l.Addr().String()

	publicURL := a.config.PublicURL
	if publicURL == "" {
		publicURL = "http://" + a.Addr
	}
	var simURL string
	if a.config.Simulator {
		simURL = publicURL + "/sim"
	}
	provider, err := NewProvider(a.config.ProviderConfig(simURL))
	if err != nil {
		l.Close()
		return err
	}
	a.provider = provider

	sdk := a.sdk
	if sdk == nil {
		sdk = noSDK{}
	}
	client := NewProviderClient(providerapi.New(nil))
	a.queue = NewQueueDispatcher(64)
	manager := NewManager(sdk, client,
		WithLogger(a.logger),
		WithLocker(locker),
		WithJournal(repository),
		WithSessionSource(client),
		WithDispatcher(a.queue),
	)
	a.service = NewService(a.logger, a.config, provider, manager, client, repository, NewHTTPNavigationHost(), publicURL)

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(chimw.Recoverer)

	api := NewAPI(a.service)
	api.AppendRoutes(router)
	for _, m := range a.mounts {
		router.Route(m.prefix, m.routes)
	}

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr), slog.String("provider", provider.BaseURL()))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) openRepository() (*Repository, error) {
	allowMem := getenv("ALLOW_MEM_BACKEND_FOR_TESTS", "false") == "true"
	switch a.config.RepoBackend {
	case "pg":
		if a.config.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		repository := NewPGRepository(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repository.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating journal: %w", err)
		}
		a.closers = append(a.closers, db)
		return repository, nil
	case "mem":
		if !allowMem {
			return nil, fmt.Errorf("mem repository is disabled at runtime; set ALLOW_MEM_BACKEND_FOR_TESTS=true only in tests")
		}
		return NewRepository(), nil
	}
	return nil, fmt.Errorf("unsupported REPO_BACKEND=%s", a.config.RepoBackend)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("shutting down http server", "err", err)
	}

	a.service.Close()
	a.queue.Close()

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Error("closing resource", "err", err)
		}
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}

// noSDK stands in when no native SDK is wired. Every native attempt is an
// integration failure and falls back to the web.
type noSDK struct{}

func (noSDK) CreateTransaction(context.Context, string, string) (SDKTransaction, error) {
	return nil, fmt.Errorf("%w: no native sdk", ErrSDKIntegration)
}

func (noSDK) Warnings(context.Context) ([]models.Warning, error) {
	return nil, nil
}
