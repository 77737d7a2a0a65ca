// Command gatewayd is the streaming TTS gateway process: it loads
// configuration, wires a synthesis engine, and serves the client-facing
// WebSocket endpoint plus an admin HTTP surface until told to shut down.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lokutor-ai/tts-gateway/internal/config"
	"github.com/lokutor-ai/tts-gateway/internal/metrics"
	"github.com/lokutor-ai/tts-gateway/internal/transport"
	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
	"github.com/lokutor-ai/tts-gateway/pkg/gateway/engine"
)

const gracefulShutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	m, shutdownMetrics, err := metrics.InitProvider("tts-gateway")
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := stdLogger{}

	manager := gateway.NewManager(ctx, eng, cfg.GatewayConfig(), logger, m)

	wsServer := transport.NewServer(manager, logger)
	adminServer := transport.NewAdminServer(manager, cfg.DebugEndpoints)

	publicMux := http.NewServeMux()
	publicMux.Handle("/ws", wsServer)
	public := &http.Server{Addr: cfg.ListenAddr, Handler: publicMux}

	admin := &http.Server{Addr: cfg.AdminListenAddr, Handler: adminServer.Handler()}

	go func() {
		log.Printf("listening for clients on %s", cfg.ListenAddr)
		if err := public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("client listener stopped: %v", err)
		}
	}()
	go func() {
		log.Printf("listening for admin on %s", cfg.AdminListenAddr)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin listener stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	_ = public.Shutdown(shutdownCtx)
	_ = admin.Shutdown(shutdownCtx)

	manager.Shutdown()
	if err := shutdownMetrics(shutdownCtx); err != nil {
		log.Printf("metrics shutdown: %v", err)
	}
}

func buildEngine(cfg config.Config) (gateway.Engine, error) {
	switch cfg.EngineKind {
	case "remote":
		return engine.NewRemote(cfg.EngineHost, cfg.EngineAPIKey), nil
	case "http":
		return engine.NewHTTP(cfg.EngineURL), nil
	case "dummy":
		fallthrough
	default:
		return engine.NewDummy(), nil
	}
}

// stdLogger adapts the standard log package to gateway.Logger, matching the
// plain log.Println/log.Fatal discipline the teacher's cmd/agent used.
type stdLogger struct{}

func (stdLogger) Debug(msg string, kv ...interface{}) { log.Println(append([]interface{}{"DEBUG", msg}, kv...)...) }
func (stdLogger) Info(msg string, kv ...interface{})  { log.Println(append([]interface{}{"INFO", msg}, kv...)...) }
func (stdLogger) Warn(msg string, kv ...interface{})  { log.Println(append([]interface{}{"WARN", msg}, kv...)...) }
func (stdLogger) Error(msg string, kv ...interface{}) { log.Println(append([]interface{}{"ERROR", msg}, kv...)...) }
