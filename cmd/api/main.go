package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ariefcatur/go-food-orders/internal/audit"
	auditsqlite "github.com/ariefcatur/go-food-orders/internal/audit/sqlite"
	"github.com/ariefcatur/go-food-orders/internal/config"
	"github.com/ariefcatur/go-food-orders/internal/gateway"
	"github.com/ariefcatur/go-food-orders/internal/gateway/momo"
	"github.com/ariefcatur/go-food-orders/internal/gateway/vnpay"
	"github.com/ariefcatur/go-food-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-food-orders/internal/kafka"
	"github.com/ariefcatur/go-food-orders/internal/logx"
	"github.com/ariefcatur/go-food-orders/internal/orders"
	"github.com/ariefcatur/go-food-orders/internal/payments"
	"github.com/ariefcatur/go-food-orders/internal/postgres"
	"github.com/ariefcatur/go-food-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logx.New(cfg.LogLevel, !cfg.Production())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, _ := cfg.Location()

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		store = seedMemStore()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				logger.Fatal("db migrate", zap.Error(err))
			}
		}
		store = &orders.PgStore{DB: db}
	}

	// Redis: wajib di production, opsional saat development
	var rdb *redis.Client
	if r := redisx.New(cfg.RedisAddr); redisx.Ping(ctx, r) == nil {
		rdb = r
		defer rdb.Close()
	} else if cfg.Production() {
		logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("redis unreachable, running without cache and dedup", zap.String("addr", cfg.RedisAddr))
		_ = r.Close()
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderLifecycle, 1024, logger)
	prod.Start()

	svc := &orders.Service{
		Store:       store,
		Events:      prod,
		Logger:      logger.Named("orders"),
		ServiceName: cfg.ServiceName,
		Location:    loc,
	}

	// Gateways
	creators := map[orders.PaymentMethod]gateway.Creator{}
	var momoClient *momo.Client
	var vnpayClient *vnpay.Client
	if cfg.MomoEnabled() {
		momoClient = momo.New(momo.Config{
			PartnerCode: cfg.Momo.PartnerCode,
			PartnerName: cfg.Momo.PartnerName,
			StoreID:     cfg.Momo.StoreID,
			AccessKey:   cfg.Momo.AccessKey,
			SecretKey:   cfg.Momo.SecretKey,
			CreateURL:   cfg.Momo.CreateURL,
			RedirectURL: cfg.Momo.RedirectURL,
			IPNURL:      cfg.Momo.IPNURL,
			Timeout:     cfg.GatewayTimeout,
		})
		creators[orders.MethodWallet] = momoClient
	} else {
		logger.Warn("momo is not configured, WALLET checkout disabled")
	}
	if cfg.VNPayEnabled() {
		vnpayClient = vnpay.New(vnpay.Config{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			PayURL:     cfg.VNPay.PayURL,
			ReturnURL:  cfg.VNPay.ReturnURL,
		})
		creators[orders.MethodBank] = vnpayClient
	} else {
		logger.Warn("vnpay is not configured, BANK checkout disabled")
	}

	// Audit log
	var auditRepo audit.Repository = audit.Discard{}
	if cfg.AuditDBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditDBPath), 0o755); err != nil {
			logger.Fatal("audit log dir", zap.Error(err))
		}
		repo, err := auditsqlite.Open(cfg.AuditDBPath)
		if err != nil {
			logger.Fatal("audit log", zap.Error(err))
		}
		defer repo.Close()
		auditRepo = repo
	}

	reconciler := &payments.Reconciler{
		Orders: svc,
		Momo:   momoClient,
		VNPay:  vnpayClient,
		Audit:  auditRepo,
		Logger: logger.Named("payments"),
	}
	checkout := &payments.Checkout{Orders: svc, Gateways: creators, Logger: logger.Named("checkout")}

	oh := &httpx.OrdersHandler{Orders: svc, Checkout: checkout, Logger: logger}
	ch := &httpx.CartHandler{Orders: svc, Logger: logger}
	if rdb != nil {
		reconciler.Dedup = &redisx.Deduper{RDB: rdb, Scope: "payment"}
		oh.Cache = &redisx.StatusCache{RDB: rdb}
		ch.Sessions = &redisx.SessionStore{RDB: rdb, TTL: cfg.SessionTTL}
	} else {
		ch.Sessions = &httpx.LocalSessions{TTL: cfg.SessionTTL}
	}

	router := httpx.NewRouter()
	oh.Register(router)
	ch.Register(router)
	(&httpx.VouchersHandler{Orders: svc, Logger: logger}).Register(router)
	(&httpx.PaymentsHandler{Reconciler: reconciler}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server", zap.Error(err))
	}

	prod.Close()      // tutup inbox -> flush & close writer
	prod.WaitClosed() // drain
}

// seedMemStore isi katalog kecil untuk coba-coba lokal.
func seedMemStore() *orders.MemStore {
	m := orders.NewMemStore()
	now := time.Now().UTC()
	for _, p := range []struct {
		name  string
		price int64
	}{
		{"Pho bo", 55000},
		{"Banh mi thit", 30000},
		{"Ca phe sua da", 25000},
	} {
		m.AddProduct(orders.Product{Name: p.name, UnitPrice: decimal.NewFromInt(p.price), Available: true, CreatedAt: now, UpdatedAt: now})
	}
	return m
}
