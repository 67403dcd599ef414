// Command valet runs the assistant runtime: it wires the memory manager,
// credential stores, Google-backed services, and tool layer, and serves the
// OAuth authorization and callback endpoints the connect flow depends on.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"

	valet "github.com/valet-ai/valet"
	pgstore "github.com/valet-ai/valet/credstore/postgres"
	sqlitestore "github.com/valet-ai/valet/credstore/sqlite"
	"github.com/valet-ai/valet/google"
	"github.com/valet-ai/valet/internal/config"
	"github.com/valet-ai/valet/memory/mem0"
	"github.com/valet-ai/valet/observer"
	calendartool "github.com/valet-ai/valet/tools/calendar"
	emailtool "github.com/valet-ai/valet/tools/email"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// 1. Load env + config
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("VALET_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	// 2. Observability (optional)
	var tracer valet.Tracer
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
		tracer = observer.NewTracer()
	}

	// 3. Credential store
	var store valet.CredentialStore
	if cfg.Database.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			log.Fatalf("postgres connect: %v", err)
		}
		defer pool.Close()
		store = pgstore.New(pool)
	} else {
		store = sqlitestore.New(cfg.Database.Path, sqlitestore.WithLogger(logger))
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		log.Fatalf("store init: %v", err)
	}
	if inst != nil {
		store = observer.WrapStore(store, inst)
	}

	// 4. Connectors
	emailConnector := valet.NewConnector(valet.IntegrationEmail, valet.OAuthConfig{
		ClientID:     cfg.Email.ClientID,
		ClientSecret: cfg.Email.ClientSecret,
		RedirectURL:  cfg.Server.BaseURL + "/email/callback",
		AuthURL:      google.AuthURL,
		TokenURL:     google.TokenURL,
		Scopes:       google.EmailScopes,
	}, store, valet.WithConnectorLogger(logger), valet.WithConnectorTracer(tracer))

	calendarConnector := valet.NewConnector(valet.IntegrationCalendar, valet.OAuthConfig{
		ClientID:     cfg.Calendar.ClientID,
		ClientSecret: cfg.Calendar.ClientSecret,
		RedirectURL:  cfg.Server.BaseURL + "/calendar/callback",
		AuthURL:      google.AuthURL,
		TokenURL:     google.TokenURL,
		Scopes:       google.CalendarScopes,
	}, store, valet.WithConnectorLogger(logger), valet.WithConnectorTracer(tracer))

	// 5. Memory
	var memOpts []mem0.Option
	if cfg.Memory.BaseURL != "" {
		memOpts = append(memOpts, mem0.WithBaseURL(cfg.Memory.BaseURL))
	}
	memClient := valet.WithMemoryRetry(mem0.New(cfg.Memory.APIKey, memOpts...), valet.RetryLogger(logger))
	if inst != nil {
		memClient = observer.WrapMemory(memClient, inst)
	}
	memory := valet.NewMemoryManager(memClient,
		valet.WithMemoryLogger(logger),
		valet.WithMemoryTracer(tracer),
	)

	// 6. Tools over Google-backed services
	var emailTool valet.Tool = emailtool.New(emailConnector, google.NewEmailAPI(),
		emailtool.WithMemory(memory), emailtool.WithLogger(logger))
	var calendarTool valet.Tool = calendartool.New(calendarConnector, google.NewCalendarAPI(),
		calendartool.WithTimezone(cfg.User.DefaultTimezone), calendartool.WithLogger(logger))
	if inst != nil {
		emailTool = observer.WrapTool(emailTool, inst)
		calendarTool = observer.WrapTool(calendarTool, inst)
	}

	sessions := newSessionHub(memory, tracer, logger, emailTool, calendarTool)

	// 7. OAuth HTTP surface
	mux := http.NewServeMux()
	registerOAuthRoutes(mux, store, logger, emailConnector, calendarConnector)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Smoke endpoint for the engine integration: the opening instruction the
	// conversation engine would receive for this user.
	mux.HandleFunc("GET /greeting", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "missing user_id", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, sessions.For(userID).Greeting(r.Context()))
	})

	logger.Info("valet listening", "addr", cfg.Server.Addr)
	log.Fatal(http.ListenAndServe(cfg.Server.Addr, mux))
}

// registerOAuthRoutes serves /{integration}/auth?user=... and the provider
// callback. The callback persists the exchanged credential; the connector
// itself never writes on the exchange path.
func registerOAuthRoutes(mux *http.ServeMux, store valet.CredentialStore, logger *slog.Logger, connectors ...valet.Connector) {
	for _, connector := range connectors {
		name := connector.Integration().String()

		mux.HandleFunc("GET /"+name+"/auth", func(w http.ResponseWriter, r *http.Request) {
			userID := r.URL.Query().Get("user_id")
			if userID == "" {
				http.Error(w, "missing user_id", http.StatusBadRequest)
				return
			}
			url, err := connector.BeginAuthorization(r.Context(), userID)
			if err != nil {
				http.Error(w, "authorization unavailable", http.StatusInternalServerError)
				return
			}
			http.Redirect(w, r, url, http.StatusFound)
		})

		mux.HandleFunc("GET /"+name+"/callback", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			userID := q.Get("user_id")
			cred, err := connector.CompleteAuthorization(r.Context(), q.Get("code"), q.Get("state"), userID)
			if err != nil {
				logger.Warn("authorization callback rejected",
					"integration", name, "user", userID, "error", err)
				http.Error(w, "authorization failed", http.StatusBadRequest)
				return
			}
			if err := store.Put(r.Context(), userID, connector.Integration(), cred); err != nil {
				logger.Error("persisting credential failed",
					"integration", name, "user", userID, "error", err)
				http.Error(w, "storing credential failed", http.StatusInternalServerError)
				return
			}
			fmt.Fprintf(w, "Your %s is connected. You can close this tab.", name)
		})
	}
}

// sessionHub hands out one Session per user, creating on first use.
type sessionHub struct {
	memory *valet.MemoryManager
	tracer valet.Tracer
	logger *slog.Logger
	tools  []valet.Tool

	mu       sync.Mutex
	sessions map[string]*valet.Session
}

func newSessionHub(memory *valet.MemoryManager, tracer valet.Tracer, logger *slog.Logger, tools ...valet.Tool) *sessionHub {
	return &sessionHub{
		memory:   memory,
		tracer:   tracer,
		logger:   logger,
		tools:    tools,
		sessions: make(map[string]*valet.Session),
	}
}

// For returns the session for userID, creating it on first use.
func (h *sessionHub) For(userID string) *valet.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[userID]; ok {
		return s
	}
	s := valet.NewSession(userID, h.memory,
		valet.WithSessionLogger(h.logger), valet.WithSessionTracer(h.tracer))
	for _, t := range h.tools {
		s.AddTool(t)
	}
	h.sessions[userID] = s
	return s
}
