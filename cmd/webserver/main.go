// Command webserver runs the single-process event-driven HTTP server,
// grounded on original_source/code/main.cpp's flat construction of
// WebServer and on the teacher's cmd/ublk-mem/main.go for CLI shape and
// signal handling.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bern-seu/webserver/internal/authdb"
	"github.com/bern-seu/webserver/internal/logging"
	"github.com/bern-seu/webserver/internal/server"
)

func main() {
	var (
		port       = flag.Int("port", 1316, "listen port (1024-65535)")
		trigMode   = flag.Int("trig-mode", 3, "trigger mode: 0=LT/LT 1=LT/ET 2=ET/LT 3=ET/ET")
		timeoutMs  = flag.Int("timeout-ms", 60000, "idle connection timeout in milliseconds (0 disables)")
		openLinger = flag.Bool("linger", false, "enable SO_LINGER graceful close")

		dbHost     = flag.String("db-host", "localhost", "auth database host")
		dbPort     = flag.Int("db-port", 3306, "auth database port")
		dbUser     = flag.String("db-user", "root", "auth database user")
		dbPassword = flag.String("db-password", "", "auth database password")
		dbName     = flag.String("db-name", "webserver", "auth database name")
		dbPoolSize = flag.Int("db-pool-size", 10, "auth database connection pool size")

		workerCount = flag.Int("worker-count", 8, "worker pool goroutine count")
		workerQueue = flag.Int("worker-queue", 4096, "worker pool task queue capacity")

		logEnable = flag.Bool("log", true, "enable logging")
		logLevel  = flag.Int("log-level", int(logging.LevelInfo), "log level: 0=DEBUG 1=INFO 2=WARN 3=ERROR")
		logQueue  = flag.Int("log-queue-size", 1024, "log async write-behind queue capacity")
	)
	flag.Parse()

	logCfg := &logging.Config{
		Level:         logging.LogLevel(*logLevel),
		Async:         true,
		QueueCapacity: *logQueue,
		Path:          "./log",
		Suffix:        ".log",
	}
	if !*logEnable {
		logCfg.Output = os.Stderr
		logCfg.Level = logging.LevelError
	}
	logger := logging.NewLogger(logCfg)
	logging.SetDefault(logger)
	defer logger.Close()

	verifier, err := authdb.Open(authdb.Config{
		Host:     *dbHost,
		Port:     *dbPort,
		User:     *dbUser,
		Password: *dbPassword,
		DBName:   *dbName,
		PoolSize: *dbPoolSize,
	})
	if err != nil {
		log.Fatalf("webserver: auth database unavailable: %v", err)
	}
	defer verifier.Close()

	srv, err := server.New(server.Config{
		Port:          *port,
		TrigMode:      *trigMode,
		TimeoutMs:     *timeoutMs,
		OpenLinger:    *openLinger,
		WorkerCount:   *workerCount,
		WorkerQueue:   *workerQueue,
		ReactorBuffer: 4096,
		Verifier:      verifier,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("webserver: construct server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("webserver: start: %v", err)
	}

	runDone := make(chan struct{})
	go func() {
		srv.Run()
		close(runDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	srv.Shutdown()

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		logger.Warn("reactor loop did not stop within timeout, exiting anyway")
	}

	os.Exit(0)
}
