package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/uptrace/bun"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/goliatone/go-passport"
	"github.com/goliatone/go-passport/config"
	"github.com/goliatone/go-passport/email"
	"github.com/goliatone/go-passport/grpcauth"
	"github.com/goliatone/go-passport/observability"
	"github.com/goliatone/go-passport/social"
	"github.com/goliatone/go-passport/storage"
)

type App struct {
	config  *config.Config
	db      *bun.DB
	service *passport.Service
	metrics *observability.Metrics
	http    router.Server[*fiber.App]
	grpc    *grpc.Server
	logger  passport.Logger
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	flag.Parse()

	logger := passport.DefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	fmt.Println("============")
	fmt.Println(print.MaybePrettyJSON(cfg))
	fmt.Println("============")

	ctx := context.Background()
	app := &App{config: cfg, logger: logger}

	if err := WithPersistence(ctx, app); err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer app.db.Close()

	if err := WithPassport(ctx, app); err != nil {
		logger.Error("failed to build passport service", "error", err)
		os.Exit(1)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		logger.Error("failed to build http server", "error", err)
		os.Exit(1)
	}

	WithGRPCServer(app)

	go func() {
		if err := app.http.Serve(cfg.Server.Address); err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}()

	if app.grpc != nil {
		go func() {
			lis, err := net.Listen("tcp", cfg.Server.GRPCAddress)
			if err != nil {
				logger.Error("failed to listen for grpc", "address", cfg.Server.GRPCAddress, "error", err)
				return
			}
			if err := app.grpc.Serve(lis); err != nil {
				logger.Error("grpc server stopped", "error", err)
			}
		}()
	}

	sig := WaitExitSignal()
	logger.Info("shutting down", "signal", sig.String())

	if app.grpc != nil {
		app.grpc.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.http.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	db, err := storage.OpenAndMigrate(ctx, app.config.Database)
	if err != nil {
		return err
	}
	app.db = db
	return nil
}

func WithPassport(_ context.Context, app *App) error {
	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		return err
	}
	app.metrics = metrics

	opts := app.config.PassportOptions()

	var publisher passport.EventPublisher = passport.EventPublisherFunc(func(_ context.Context, evt passport.Event, _ passport.PublishOptions) error {
		app.logger.Info(evt.Message, "type", evt.Type, "object_id", evt.ObjectID)
		return nil
	})

	if app.config.Email.Welcome || app.config.Email.Recover {
		composer, err := email.NewComposer(nil)
		if err != nil {
			return err
		}
		mailer := email.LogMailer{Logger: app.logger}

		if app.config.Email.Welcome {
			publisher = email.NewWelcomePublisher(publisher, mailer, composer, app.logger)
		}
		if app.config.Email.Recover {
			opts.Hooks.OnUserRecover = opts.Hooks.OnUserRecover.Append(passport.NamedHook{
				Name: "email",
				Fn:   email.RecoverHook(mailer, composer),
			})
		}
	}

	publisher = observability.NewPublisher(publisher, metrics)

	repo := passport.NewRepositoryManager(app.db)
	repo.MustValidate()

	svc, err := passport.NewService(repo, opts,
		passport.WithLogger(app.logger),
		passport.WithEventPublisher(publisher),
	)
	if err != nil {
		return err
	}
	app.service = svc
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	registry, err := social.NewRegistry(app.config.Passport.Protocols, social.WithLogger(app.logger))
	if err != nil {
		return err
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		a = fiber.New(fiber.Config{
			AppName:      "passportd",
			ErrorHandler: passport.ErrorHandler(app.logger),
		})
		a.Use(app.metrics.Middleware())
		if path := app.config.Server.MetricsPath; path != "" {
			a.Get(path, app.metrics.Handler())
		}
		return a
	})

	controller := passport.NewAuthController(app.service, nil,
		passport.WithProviders(registry),
		passport.WithControllerLogger(app.logger),
	)
	passport.RegisterAuthRoutes(srv.Router(), controller)

	onError := passport.RouteErrorHandler(app.logger)
	policies := []router.MiddlewareFunc{controller.SessionUser()}
	if app.config.Server.BasicAuth {
		policies = append(policies, passport.BasicPolicy(app.service, onError))
	}
	policies = append(policies, passport.BearerPolicy(app.service.Tokens(), passport.BearerConfig{
		// Session and Basic authenticated requests already carry a user.
		Filter: func(c router.Context) bool {
			return passport.CurrentUser(c) != nil
		},
	}))

	api := srv.Router().Group("/api")
	api.Get("/me", func(c router.Context) error {
		return c.JSON(router.StatusOK, passport.CurrentUser(c))
	}, policies...).SetName("api.me")

	app.http = srv
	return nil
}

func WithGRPCServer(app *App) {
	if app.config.Server.GRPCAddress == "" {
		return
	}

	guard := grpcauth.Config{
		PublicMethods: []string{
			"/grpc.health.v1.Health/Check",
			"/grpc.health.v1.Health/Watch",
		},
		Logger: app.logger,
	}

	srv := grpc.NewServer(
		grpc.UnaryInterceptor(grpcauth.UnaryServerInterceptor(app.service.Tokens(), guard)),
		grpc.StreamInterceptor(grpcauth.StreamServerInterceptor(app.service.Tokens(), guard)),
	)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	app.grpc = srv
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
