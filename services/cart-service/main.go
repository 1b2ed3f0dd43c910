package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	awspkg "github.com/yashrajoria/storefront/pkg/aws"
	"github.com/yashrajoria/storefront/services/cart-service/config"
	"github.com/yashrajoria/storefront/services/cart-service/controllers"
	"github.com/yashrajoria/storefront/services/cart-service/database"
	"github.com/yashrajoria/storefront/services/cart-service/kafka"
	cartmw "github.com/yashrajoria/storefront/services/cart-service/middleware"
	"github.com/yashrajoria/storefront/services/cart-service/repository"
	"github.com/yashrajoria/storefront/services/cart-service/routes"
	"github.com/yashrajoria/storefront/services/cart-service/services"
	"github.com/yashrajoria/storefront/services/common/auth"
	apperrors "github.com/yashrajoria/storefront/services/common/errors"
	"github.com/yashrajoria/storefront/services/common/logger"
	"github.com/yashrajoria/storefront/services/common/middleware"
)

const serviceName = "cart-service"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("config load failed: " + err.Error())
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Database ---
	db, err := database.Connect(cfg.DSN(), log)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}

	// --- Redis (optional) ---
	var (
		redisClient *redis.Client
		redisStore  *database.RedisStore
		priceCache  services.PriceCache
		idemStore   controllers.IdempotencyStore
	)
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(rootCtx, cfg.RedisURL)
		if err != nil {
			log.Fatal("Redis connection failed", zap.Error(err))
		}
		redisStore = database.NewRedisStore(redisClient)
		priceCache = redisStore
		idemStore = redisStore
	} else {
		log.Warn("REDIS_URL not set, price cache and idempotency keys disabled")
	}

	// --- AWS setup (non-fatal) ---
	var (
		metricsClient awspkg.MetricsRecorder
		snsPublisher  services.EventPublisher
	)
	awsCfg, awsErr := awspkg.LoadAWSConfig(rootCtx)
	if awsErr != nil {
		log.Warn("Failed to load AWS config, SNS, SQS and CloudWatch disabled", zap.Error(awsErr))
	} else {
		metricsClient = awspkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
		if cfg.CloudWatchEnabled {
			cwLogs, err := awspkg.NewCloudWatchLogsClient(rootCtx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
			if err != nil {
				log.Warn("CloudWatch logs client init failed (non-fatal)", zap.Error(err))
			} else {
				log = logger.Tee(log, cwLogs)
				go cwLogs.Run(rootCtx, 5*time.Second)
			}
		}
		if cfg.CartSNSTopicARN != "" {
			snsPublisher = services.NewSNSEventPublisher(awspkg.NewSNSClient(awsCfg), cfg.CartSNSTopicARN)
		}
		if cfg.ProductEventsQueue != "" && redisStore != nil {
			handler := services.NewProductEventHandler(redisStore, log)
			consumer := awspkg.NewSQSConsumer(awsCfg, cfg.ProductEventsQueue, log)
			go func() {
				if err := consumer.StartPolling(rootCtx, handler.Handle); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("SQS consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	// --- Kafka ---
	var (
		producer      *kafka.Producer
		kafkaProducer services.EventPublisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.CartEventsTopic)
		kafkaProducer = producer
		if redisStore != nil {
			handler := services.NewProductEventHandler(redisStore, log)
			consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ProductEventsTopic, cfg.KafkaGroupID, handler, log)
			go consumer.Run(rootCtx)
		}
	}

	// --- Dependency injection ---
	userRepo := repository.NewGormUserRepository(db)
	productRepo := repository.NewGormProductRepository(db)
	cartRepo := repository.NewGormCartRepository(db)

	var (
		priceSource services.PriceSource    = productRepo
		catalog     services.ProductCatalog = productRepo
	)
	switch cfg.PriceSource {
	case config.PriceSourceHTTP:
		client := services.NewProductClient(cfg.ProductServiceURL, 5*time.Second)
		priceSource = client
		catalog = client
	case config.PriceSourceDynamo:
		if awsErr != nil {
			log.Fatal("PRICE_SOURCE=dynamodb needs AWS config", zap.Error(awsErr))
		}
		ddb := repository.NewDynamoProductRepository(awsCfg, cfg.DynamoProductsTable)
		priceSource = ddb
		catalog = ddb
	}

	cartService := services.NewCartService(services.CartDeps{
		Carts:    cartRepo,
		Identity: services.NewIdentityResolver(userRepo, log),
		Prices:   services.NewPriceOracle(priceSource, priceCache, cfg.PriceCacheTTL, log),
		Catalog:  catalog,
		Events:   services.NewMultiPublisher(kafkaProducer, snsPublisher),
		Metrics:  metricsClient,
	}, log)
	cartController := controllers.NewCartController(cartService, idemStore, cfg.IdempotencyTTL, log)

	var tokens cartmw.ReferenceExtractor
	if cfg.JWTSecret != "" {
		tokens = auth.NewValidator(cfg.JWTSecret)
	}

	// --- HTTP router ---
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter(rootCtx, rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst, 10*time.Minute)))
	r.Use(middleware.MetricsMiddleware(metricsClient, serviceName))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterCartRoutes(r, cartController, cartmw.AuthMiddleware(tokens, cfg.TrustGatewayHeaders))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": serviceName})
	})

	// --- HTTP server ---
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Info("Cart Service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Initiating graceful shutdown...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("Kafka producer close error", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Redis close error", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		log.Error("Database close error", zap.Error(err))
	}

	log.Info("Cart Service stopped gracefully")
}
