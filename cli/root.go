// Package cli provides the command-line interface and HTTP server for the
// support desk service. It orchestrates the complete application lifecycle:
// configuration via flags, environment variables and config files, service
// initialization, route setup, the background worker pool, and graceful
// shutdown.
//
// Architecture Overview:
//
//	CLI → Configuration → Services → HTTP Server → API Routes
//	                          ↓
//	          CouchDB ← work items / threads
//	          RabbitMQ ← event broadcast
//	          Redis ← realtime channel + worker job queue
//	          Microsoft Graph ← Teams chats, activity feed, meetings
package cli

import (
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ejazhussain/espc2025-sub000/ai"
	"github.com/ejazhussain/espc2025-sub000/api"
	"github.com/ejazhussain/espc2025-sub000/cloud"
	desk "github.com/ejazhussain/espc2025-sub000/common"
	"github.com/ejazhussain/espc2025-sub000/db"
	deskhttp "github.com/ejazhussain/espc2025-sub000/http"
	"github.com/ejazhussain/espc2025-sub000/notification"
	"github.com/ejazhussain/espc2025-sub000/queue"
	redisq "github.com/ejazhussain/espc2025-sub000/queue/redis"
	"github.com/ejazhussain/espc2025-sub000/security"
	"github.com/ejazhussain/espc2025-sub000/version"
	"github.com/ejazhussain/espc2025-sub000/worker"
)

// cfgFile holds the path to the configuration file specified via
// command-line flag. When empty, .desk-service.yaml is searched in the
// home and working directories.
var cfgFile string

// RootCmd defines the main CLI command for the support desk service.
var RootCmd = &cobra.Command{
	Use:   "deskd",
	Short: "customer support desk service over Teams chats",
	Long: `Support Desk Service

An HTTP API server orchestrating customer support conversations:
- Customers start chats that land as waiting work items for agents
- Agents claim work items with lost-race detection
- Lifecycle events fan out over RabbitMQ, Redis and the Teams activity feed
- Closed conversations get AI summaries and mailed transcripts

Configuration can be provided via command-line flags, environment variables
(DESK_ prefix), or YAML configuration files with automatic precedence
handling.`,
	Run: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.desk-service.yaml)")

	RootCmd.PersistentFlags().Int("port", 8080, "Server port")
	RootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	RootCmd.PersistentFlags().String("couchdb-url", "http://localhost:5984", "CouchDB connection URL")
	RootCmd.PersistentFlags().String("database-name", "deskdb", "CouchDB database name")

	RootCmd.PersistentFlags().String("rabbitmq-url", "", "RabbitMQ connection URL")
	RootCmd.PersistentFlags().String("queue-name", "desk-events", "RabbitMQ broadcast queue name")

	RootCmd.PersistentFlags().String("redis-url", "redis://localhost:6379/0", "Redis connection URL")

	RootCmd.PersistentFlags().String("jwt-secret", "", "JWT signing secret")

	// Bind flags to Viper configuration keys
	viper.BindPFlag("server.port", RootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("server.debug", RootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("couchdb.url", RootCmd.PersistentFlags().Lookup("couchdb-url"))
	viper.BindPFlag("couchdb.database_name", RootCmd.PersistentFlags().Lookup("database-name"))
	viper.BindPFlag("rabbitmq.url", RootCmd.PersistentFlags().Lookup("rabbitmq-url"))
	viper.BindPFlag("rabbitmq.queue_name", RootCmd.PersistentFlags().Lookup("queue-name"))
	viper.BindPFlag("redis.url", RootCmd.PersistentFlags().Lookup("redis-url"))
	viper.BindPFlag("security.jwt_secret", RootCmd.PersistentFlags().Lookup("jwt-secret"))
}

// initConfig loads configuration from the config file and environment.
// Environment variables use the DESK_ prefix with underscores for nesting,
// e.g. DESK_COUCHDB_URL maps to couchdb.url.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".desk-service")
	}

	viper.SetEnvPrefix("DESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		desk.Logger.WithField("file", viper.ConfigFileUsed()).Info("using config file")
	}
}

// runServer initializes all services and runs the HTTP server and worker
// pool until a shutdown signal arrives.
func runServer(cmd *cobra.Command, args []string) {
	level := desk.LogLevelInfo
	if viper.GetBool("server.debug") {
		level = desk.LogLevelDebug
	}
	desk.ConfigureLogger(level, viper.GetString("log.format"))

	serviceVersion := version.GetServiceVersion()
	logger := desk.ServiceLogger("deskd", serviceVersion)
	logger.Info("starting support desk service")

	// CouchDB document store
	backend, err := db.NewCouchBackend(db.Config{
		URL:      viper.GetString("couchdb.url"),
		Database: viper.GetString("couchdb.database_name"),
	})
	if err != nil {
		desk.Logger.Fatalf("Failed to initialize CouchDB backend: %v", err)
	}
	defer backend.Close()

	items := db.NewWorkItemStore(backend)
	threads := db.NewThreadStore(backend)

	// RabbitMQ broadcast queue
	broadcast, err := queue.NewRabbitMQService(queue.Config{
		URL:       viper.GetString("rabbitmq.url"),
		QueueName: viper.GetString("rabbitmq.queue_name"),
	})
	if err != nil {
		desk.Logger.Fatalf("Failed to initialize RabbitMQ service: %v", err)
	}
	defer broadcast.Close()

	// Redis job queue and realtime channel
	ctx := cmd.Context()
	jobs, err := redisq.NewQueue(ctx, redisq.Config{
		RedisURL: viper.GetString("redis.url"),
	})
	if err != nil {
		desk.Logger.Fatalf("Failed to initialize Redis queue: %v", err)
	}
	defer jobs.Close()

	realtime, err := redisq.NewEventBus(ctx, viper.GetString("redis.url"), "")
	if err != nil {
		desk.Logger.Fatalf("Failed to initialize Redis event bus: %v", err)
	}
	defer realtime.Close()

	// Microsoft Graph client for Teams chats
	chats, err := cloud.NewGraphClient(cloud.GraphConfig{
		TenantID:     viper.GetString("graph.tenant_id"),
		ClientID:     viper.GetString("graph.client_id"),
		ClientSecret: viper.GetString("graph.client_secret"),
	})
	if err != nil {
		desk.Logger.Fatalf("Failed to initialize Graph client: %v", err)
	}

	// AI summarizer
	summarizer, err := ai.NewOpenAISummarizer(ai.Config{
		APIKey:        viper.GetString("openai.api_key"),
		Model:         viper.GetString("openai.model"),
		AzureEndpoint: viper.GetString("openai.azure_endpoint"),
	})
	if err != nil {
		desk.Logger.Fatalf("Failed to initialize summarizer: %v", err)
	}

	// Transcript mailer
	mailer := notification.NewRapidMailer(notification.RapidMailConfig{
		APIUser:   viper.GetString("mail.api_user"),
		APIPass:   viper.GetString("mail.api_pass"),
		FromName:  viper.GetString("mail.from_name"),
		FromEmail: viper.GetString("mail.from_email"),
	})

	// JWT service for customer and agent tokens
	jwtSecret := viper.GetString("security.jwt_secret")
	if jwtSecret == "" {
		desk.Logger.Fatal("security.jwt_secret is required")
	}
	jwtService := security.NewJWTService(jwtSecret)

	// Background worker pool draining the notification queue
	processor := worker.NewNotificationProcessor(chats, items, summarizer, mailer,
		worker.NotificationConfig{
			AgentIDs:   viper.GetStringSlice("desk.agent_ids"),
			ConsoleURL: viper.GetString("desk.console_url"),
		})
	pool := worker.NewPool(jobs, processor, worker.DefaultConfig())
	pool.Start()
	defer pool.Stop()

	// HTTP server
	serverConfig := deskhttp.DefaultServerConfig()
	serverConfig.Port = viper.GetInt("server.port")
	serverConfig.Debug = viper.GetBool("server.debug")
	if origins := viper.GetStringSlice("server.allowed_origins"); len(origins) > 0 {
		serverConfig.AllowedOrigins = origins
	}

	e := deskhttp.NewEchoServer(serverConfig)
	e.GET("/health", deskhttp.HealthCheckHandlerWithDetails("deskd", serviceVersion,
		func() map[string]interface{} {
			details := map[string]interface{}{"couchdb": "ok", "redis": "ok"}
			if err := backend.Ping(cmd.Context()); err != nil {
				details["couchdb"] = err.Error()
			}
			if err := jobs.Ping(cmd.Context()); err != nil {
				details["redis"] = err.Error()
			}
			return details
		}))

	handlers := &api.Handlers{
		Items:     items,
		Threads:   threads,
		Chats:     chats,
		JWT:       jwtService,
		Broadcast: broadcast,
		Realtime:  realtime,
		Jobs:      jobs,
		Config: api.DeskConfig{
			JWTSecret:   jwtSecret,
			AgentIDs:    viper.GetStringSlice("desk.agent_ids"),
			OrganizerID: viper.GetString("desk.organizer_id"),
		},
	}
	api.SetupRoutes(e, handlers)

	go func() {
		if err := deskhttp.StartServer(e, serverConfig); err != nil && err != http.ErrServerClosed {
			desk.Logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	if err := deskhttp.GracefulShutdown(e, 10*time.Second); err != nil {
		desk.Logger.WithError(err).Error("graceful shutdown failed")
	}
}
