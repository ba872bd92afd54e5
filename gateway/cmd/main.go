package main

import (
	"context"
	"net/http"

	"github.com/spf13/viper"

	"github.com/meetbridge/interview-gateway/gateway/rooms"
	"github.com/meetbridge/interview-gateway/gateway/signal"
	"github.com/meetbridge/interview-gateway/gateway/transport"
	"github.com/meetbridge/interview-gateway/internal/config"
	"github.com/meetbridge/interview-gateway/internal/httputil"
	wsrpc "github.com/meetbridge/interview-gateway/internal/jsonrpc/websocket"
	"github.com/meetbridge/interview-gateway/internal/jwt"
	"github.com/meetbridge/interview-gateway/internal/log"
	"github.com/meetbridge/interview-gateway/internal/otel"
	"github.com/meetbridge/interview-gateway/internal/workflow"
)

type Config struct {
	App     config.App      `mapstructure:"app"`
	WSHttp  httputil.Config `mapstructure:"ws_http"`
	APIHttp httputil.Config `mapstructure:"api_http"`
	Otel    otel.Config     `mapstructure:"otel"`
	Rooms   rooms.Policy    `mapstructure:"rooms"`

	JWTSecret   string `mapstructure:"jwt_secret"`
	StatusToken string `mapstructure:"status_token"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("jwt_secret", "MY-secret-key-change-in-production")
		v.SetDefault("status_token", "")
		v.SetDefault("allowed_origins", []string{"*"})

		config.Setup(v, "app")
		otel.Setup(v, "otel")
		httputil.Setup(v, "ws_http")
		httputil.Setup(v, "api_http")
		rooms.Setup(v, "rooms")

		// override default addrs to ease testing
		v.SetDefault("ws_http.addr", "0.0.0.0:8081")
		v.SetDefault("api_http.addr", "0.0.0.0:8080")
	})
}

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err := log.NewLogger(config.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Initialize OpenTelemetry
	otelShutdown, err := otel.Init(ctx, &config.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting Interview Gateway...")

	jwtAuth := jwt.NewAuth(config.JWTSecret, rooms.RoleNames())

	roomSvc := rooms.NewService(config.Rooms, logger.Module("Rooms"))
	connMgr := signal.NewWSConnMgr(logger.Module("ConnMgr"))

	hook := signal.NewWSHook(
		connMgr,
		roomSvc,
		jwtAuth,
		logger.Module("WSHook"),
	)
	wsRPCServer := wsrpc.NewServer(
		hook,
		config.AllowedOrigins,
		logger.Module("WSRPC"),
	)
	signalServer := signal.NewServer(
		wsRPCServer,
		connMgr,
		roomSvc,
		logger.Module("Signal"),
	)

	if err := signalServer.Open(ctx); err != nil {
		logger.Fatal("Failed to open Signal Server", log.Error(err))
	}

	router := transport.NewRouter(
		roomSvc,
		signalServer,
		jwtAuth,
		config.Rooms,
		config.StatusToken,
		config.AllowedOrigins,
		logger.Module("API"),
	)

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", wsRPCServer.HandleWebSocket)
	wsServer := httputil.NewServer(&config.WSHttp, wsMux)
	apiServer := httputil.NewServer(&config.APIHttp, router.Handler())

	go func() {
		logger.Info("Starting WebSocket server", log.String("addr", config.WSHttp.Addr))
		if err := wsServer.Listen(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start WebSocket server", log.Error(err))
		}
	}()
	go func() {
		logger.Info("Starting API server", log.String("addr", config.APIHttp.Addr))
		if err := apiServer.Listen(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start API server", log.Error(err))
		}
	}()

	// Graceful shutdown
	cleanup := func(ctx context.Context) {
		_ = apiServer.Shutdown(ctx)
		_ = wsServer.Shutdown(ctx)

		if err := signalServer.Close(); err != nil {
			logger.Error("Error closing Signal Server", log.Error(err))
		}
		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, config.App.ShutdownTimeout)
}
