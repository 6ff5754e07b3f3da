package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/oocsi/discovery"
	"github.com/luma/oocsi/internal/meta"
	"github.com/luma/oocsi/protocol"
	"github.com/luma/oocsi/transport"
)

var (
	// The host to listen on
	serveHost string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for tcp clients on
	servePort int

	// Announce the server on the local network
	announce bool

	// The address put in announcements, defaults to the first non loopback
	// IPv4 address
	announceHost string
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.IntVarP(&servePort, "port", "p", protocol.DefaultPort, "The port to listen for client connections on")
	flags.StringVar(&httpPort, "http-port", "4480", "The port to listen to HTTP requests on")
	flags.StringVarP(&serveHost, "host", "a", "0.0.0.0", "The host to listen on")
	flags.BoolVar(&announce, "announce", false, "Announce the server over multicast")
	flags.StringVar(&announceHost, "announce-host", "", "The address to announce")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a small OOCSI server",
	Long: `Run a small OOCSI server, useful to develop and test clients against.

Usage
	oocsi serve --port 4444 --announce

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			log.Warn("Failed to raise file limit", zap.Error(err))
		} else {
			log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))
		}

		tcp := transport.NewTCP(transport.Options{
			Host:      serveHost,
			Port:      servePort,
			Reuseport: true,
			Trace:     conf.LogLevel == "debug",
			Log:       log.Named("transport"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log)
		addRoutes(router, tcp)

		s := &http.Server{
			Addr:    net.JoinHostPort(serveHost, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		var announcer *discovery.Announcer
		if announce {
			announcer, err = startAnnouncer(ctx, tcp.Port(), log)
			if err != nil {
				log.Warn("Failed to announce server", zap.Error(err))
			}
		}

		log.Info("Listening",
			zap.String("host", serveHost),
			zap.Int("port", tcp.Port()),
			zap.String("httpPort", httpPort),
			zap.Bool("announce", announcer != nil))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if announcer != nil {
			if err := announcer.Close(); err != nil {
				log.Warn("Announcer did not close cleanly", zap.Error(err))
			}
		}

		if err := tcp.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func startAnnouncer(ctx context.Context, port int, log *zap.Logger) (*discovery.Announcer, error) {
	host := announceHost
	if host == "" {
		host = localIPv4()
	}

	announcer, err := discovery.NewAnnouncer(discovery.AnnouncerOptions{
		Host: host,
		Port: port,
		Log:  log,
	})
	if err != nil {
		return nil, err
	}

	announcer.Start(ctx)
	return announcer, nil
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, in UTC.
	r.Use(ginzap.GinzapWithConfig(log.Named("http"), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func addRoutes(router *gin.Engine, tcp *transport.TCP) {
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":  meta.GetInfo().Version,
			"port":     tcp.Port(),
			"clients":  len(tcp.Clients()),
			"channels": len(tcp.Channels()),
		})
	})

	router.GET("/clients", func(c *gin.Context) {
		c.JSON(http.StatusOK, tcp.Clients())
	})

	router.GET("/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, tcp.Channels())
	})

	// Publish a JSON object to a channel on behalf of the server.
	router.POST("/channels/:channel", func(c *gin.Context) {
		var data map[string]interface{}
		if err := c.ShouldBindJSON(&data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		delivered, err := tcp.Publish(c.Param("channel"), "http", data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "delivered": delivered})
			return
		}

		c.JSON(http.StatusOK, gin.H{"delivered": delivered})
	})
}

// localIPv4 returns the first non loopback IPv4 address of this host.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}

	return "127.0.0.1"
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
