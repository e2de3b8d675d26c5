// Package api assembles the TeamCore HTTP service: configuration, storage,
// identity, the engines and their gin routes.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	auth "kyri56xcaesar/teamcore/internal/authmw"
	"kyri56xcaesar/teamcore/internal/idempotency"
	"kyri56xcaesar/teamcore/internal/mbranch"
	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/mproject"
	"kyri56xcaesar/teamcore/internal/mtask"
	"kyri56xcaesar/teamcore/internal/muser"
	"kyri56xcaesar/teamcore/internal/store"
	"kyri56xcaesar/teamcore/internal/utils"
)

const (
	apiPrefix        = "/api"
	cronSecretHeader = "X-Cron-Secret"
)

// App is one wired service instance.
type App struct {
	config Config
	engine *gin.Engine
	store  store.Store
	idem   idempotency.Store

	sessions *auth.Sessions
	guard    *auth.Guard

	tasks    *mtask.Engine
	branches *mbranch.Engine
	projects *mproject.Engine
	users    *muser.Service
	sweeper  *mtask.Sweeper

	probe   *http.Client
	closers []func()
}

// NewApp opens the configured store, cache and identity provider and builds
// the gin engine.
func NewApp(ctx context.Context, config Config) (*App, error) {
	a := &App{
		config: config,
		probe:  &http.Client{Timeout: 5 * time.Second},
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	a.initIdempotency(ctx)

	a.tasks = mtask.NewEngine(a.store)
	a.branches = mbranch.NewEngine(a.store)
	a.projects = mproject.NewEngine(a.store)
	a.sweeper = mtask.NewSweeper(a.tasks, config.SweepInterval)

	if err := a.initIdentity(ctx); err != nil {
		a.Close()
		return nil, err
	}

	setGinMode(config.ApiGinMode)
	a.engine = gin.New()
	a.engine.Use(requestID(), gin.LoggerWithFormatter(logFormat), gin.Recovery())
	a.setCors()
	a.setRoutes()

	return a, nil
}

func (a *App) Handler() http.Handler { return a.engine }

// Close releases the store and cache connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.config.Profile {
	case ProfileMemory:
		log.Printf("using the in-memory store, data is lost on exit")
		a.store = store.NewMemory()
	case ProfilePostgres, "":
		pg, err := store.NewPostgres(ctx, store.PostgresConfig{
			URL:         a.config.DBURL,
			Address:     a.config.DBAddress,
			User:        a.config.DBUser,
			Password:    a.config.DBPassword,
			Name:        a.config.DBName,
			InitSQLPath: a.config.InitSQLPath,
		})
		if err != nil {
			return err
		}
		a.store = pg
	default:
		return fmt.Errorf("unknown profile %q", a.config.Profile)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *App) initIdempotency(ctx context.Context) {
	if a.config.RedisAddress == "" {
		a.idem = idempotency.NewMemory()
		return
	}

	rdb, err := idempotency.NewRedis(ctx, idempotency.RedisConfig{
		Address:  a.config.RedisAddress,
		Password: a.config.RedisPassword,
		DB:       a.config.RedisDB,
	})
	if err != nil {
		log.Printf("redis unavailable, falling back to the in-memory idempotency cache: %v", err)
		a.idem = idempotency.NewMemory()
		return
	}
	a.idem = rdb
	a.closers = append(a.closers, func() {
		if err := rdb.Close(); err != nil {
			log.Printf("failed to close redis: %v", err)
		}
	})
}

func (a *App) initIdentity(ctx context.Context) error {
	var (
		tokens      muser.TokenIssuer
		provisioner muser.Provisioner
	)

	switch a.config.AuthMode {
	case AuthLocal, "":
		secret := a.config.JWTSecret
		if secret == "" {
			if a.config.Profile != ProfileMemory {
				return errors.New("JWT_SECRET is required for local auth")
			}
			generated, err := utils.GenerateRandomString(48)
			if err != nil {
				return err
			}
			log.Printf("JWT_SECRET not set, using a random secret; sessions end on restart")
			secret = generated
		}
		sessions, err := auth.NewSessions(secret, a.config.SessionTTL)
		if err != nil {
			return err
		}
		a.sessions = sessions
		tokens = sessions

	case AuthKeycloak:
		if a.config.ClientSecret != "" {
			p, err := auth.NewProvisioner(a.config.AuthAddress, a.config.Realm, a.config.ClientID, a.config.ClientSecret, a.config.MemberGroup)
			if err != nil {
				log.Printf("keycloak provisioning disabled: %v", err)
			} else {
				provisioner = p
			}
		}

	default:
		return fmt.Errorf("unknown auth mode %q", a.config.AuthMode)
	}

	a.users = muser.NewService(a.store, tokens, provisioner)

	var authenticator auth.Authenticator = a.sessions
	if a.config.AuthMode == AuthKeycloak {
		kc, err := a.mustInitKcAuth()
		if err != nil {
			return err
		}
		authenticator = kc
	}
	a.guard = auth.NewGuard(authenticator, a.users)

	if a.config.AdminEmail != "" && a.config.AdminPassword != "" && a.sessions != nil {
		u, created, err := a.users.EnsureAdmin(ctx, a.config.AdminEmail, a.config.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			log.Printf("created bootstrap admin %s (id %d)", u.Email, u.ID)
		}
	}
	return nil
}

func (a *App) mustInitKcAuth() (*auth.KeycloakAuth, error) {
	issuer := fmt.Sprintf("http://%s/realms/%s", a.config.AuthAddress, a.config.Realm)
	jwksURL := fmt.Sprintf("http://%s/realms/%s/protocol/openid-connect/certs", a.config.AuthAddress, a.config.Realm)

	kc, err := auth.NewKeycloakAuth(jwksURL, issuer, a.config.Audience, a.config.ClientID, a.users)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate the kc authenticator middleware: %w", err)
	}
	return kc, nil
}

func (a *App) setCors() {
	corsconfig := cors.DefaultConfig()
	corsconfig.AllowOrigins = a.config.AllowedOrigins
	corsconfig.AllowMethods = a.config.AllowedMethods
	corsconfig.AllowHeaders = a.config.AllowedHeaders
	corsconfig.ExposeHeaders = []string{requestIDHeader, "Idempotent-Replayed"}
	if len(a.config.AllowedOrigins) == 1 && a.config.AllowedOrigins[0] == "*" {
		corsconfig.AllowOrigins = nil
		corsconfig.AllowAllOrigins = true
	}
	a.engine.Use(cors.New(corsconfig))
}

func (a *App) setRoutes() {
	taskHandler := mtask.NewHandler(a.tasks, a.idem)
	branchHandler := mbranch.NewHandler(a.branches)
	projectHandler := mproject.NewHandler(a.projects)
	userHandler := muser.NewHandler(a.users, a.config.SessionTTL)

	root := a.engine.Group("/")
	{
		root.GET("/healthz", a.handleLiveness)
	}

	public := a.engine.Group(apiPrefix)
	{
		public.GET("/health", a.membersOnlyProbe(), a.handleHealth)
		if a.sessions != nil {
			public.POST("/auth/login", userHandler.Login)
		}
	}

	cron := a.engine.Group(apiPrefix+"/cron", a.requireCronSecret())
	{
		cron.GET("/check-expired", taskHandler.CheckExpired)
		cron.POST("/check-expired", taskHandler.CheckExpired)
	}

	anyUser := a.engine.Group(apiPrefix, a.guard.Authenticated())
	{
		if a.sessions != nil {
			anyUser.POST("/auth/change-password", userHandler.ChangePassword)
		}
	}

	member := a.engine.Group(apiPrefix, a.guard.RequireRoles(models.RoleMember, models.RoleAdmin))
	{
		member.GET("/projects", projectHandler.List)
		member.GET("/projects/:id", projectHandler.Get)

		member.GET("/tasks", taskHandler.List)
		member.GET("/tasks/:id", taskHandler.Get)
		member.GET("/my-tasks", taskHandler.MyTasks)
		member.POST("/tasks/take", taskHandler.Take)
		member.POST("/tasks/submit", taskHandler.Submit)

		member.POST("/branches/:branchId/own", branchHandler.Own)
		member.DELETE("/branches/:branchId/leave", branchHandler.Leave)
		member.GET("/branches/:branchId/owners", branchHandler.Owners)
		member.GET("/my-areas", branchHandler.MyAreas)

		member.GET("/users", userHandler.Leaderboard)
	}

	admin := a.engine.Group(apiPrefix, a.guard.RequireRoles(models.RoleAdmin))
	{
		admin.POST("/projects", projectHandler.Create)
		admin.DELETE("/projects/:id", projectHandler.Delete)
		admin.POST("/projects/:id/branches", projectHandler.AddBranch)

		admin.POST("/tasks", taskHandler.Create)
		admin.PUT("/tasks/:id", taskHandler.Update)
		admin.DELETE("/tasks/:id", taskHandler.Delete)

		admin.POST("/invite", userHandler.Invite)
	}
}

// InitAndServe loads the config, serves until SIGINT/SIGTERM and shuts down
// gracefully.
func InitAndServe(confPath string, seed bool) {
	config := loadConfig(confPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, config)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}

	if seed {
		if err := app.Seed(ctx); err != nil {
			app.Close()
			log.Fatalf("failed to seed: %v", err)
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port),
		Handler:           app.Handler(),
		ReadHeaderTimeout: time.Second * 5,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sweeper.Run(ctx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	log.Printf("teamcore listening on :%s", config.Port)

	<-ctx.Done()

	stop()
	log.Println("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	wg.Wait()
	app.Close()

	log.Println("Server exiting")
}

func setGinMode(mode string) {
	switch strings.ToLower(mode) {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "envgin":
		gin.SetMode(gin.EnvGinMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
}

// membersOnlyProbe leaves the bare health reply public but requires a member
// session before the server fetches a caller supplied url.
func (a *App) membersOnlyProbe() gin.HandlerFunc {
	member := a.guard.RequireRoles(models.RoleMember, models.RoleAdmin)
	return func(c *gin.Context) {
		if c.Query("url") == "" {
			c.Next()
			return
		}
		member(c)
	}
}

func (a *App) requireCronSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.config.CronSecret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(cronSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.config.CronSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
