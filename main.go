package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"shadownet/client"
	"shadownet/config"
	"shadownet/logging"
	"shadownet/protocol"
	"shadownet/server"
	"shadownet/vec"
)

// shadownet 入口：-mode server 启动复制服务端与管理接口；-mode client 启动无头机器人客户端
func main() {
	var (
		mode       string
		configPath string
		listen     string
		admin      string
		address    string
		username   string
		logFile    string
	)
	flag.StringVar(&mode, "mode", "server", "server | client")
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&listen, "listen", "", "game listen address, e.g. :2228 (server)")
	flag.StringVar(&admin, "admin", "", "admin HTTP listen address, e.g. :8080; \"-\" disables (server)")
	flag.StringVar(&address, "addr", "", "server address to connect to (client)")
	flag.StringVar(&username, "username", "", "player name (client)")
	flag.StringVar(&logFile, "log", "", "log file path; empty keeps the config value")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if listen != "" {
		cfg.Server.ListenAddress = listen
	}
	if admin != "" {
		cfg.Server.AdminAddress = admin
	}
	if address != "" {
		cfg.Client.ServerAddress = address
	}
	if username != "" {
		cfg.Client.Username = username
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := logging.InitLogger(cfg.Log.File, cfg.Log.Level); err != nil {
		panic(err)
	}
	defer logging.SyncLogger()

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case "server":
		err = runServer(ctx, cfg)
	case "client":
		err = runClient(ctx, cfg)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		logging.Log.Errorf("exit: %v", err)
		logging.SyncLogger()
		os.Exit(1)
	}
	logging.Log.Info("Shutting down...")
}

func runServer(ctx context.Context, cfg *config.Config) error {
	srv, err := server.New(server.Options{Config: cfg, Logger: logging.Log})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	if cfg.Server.AdminAddress != "-" {
		hs := &http.Server{Addr: cfg.Server.AdminAddress, Handler: srv.AdminHandler()}
		g.Go(func() error {
			logging.Log.Infof("admin listening on %s; open http://localhost%v/metrics", hs.Addr, hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// runClient 机器人客户端：绕出生点画圆并定期打印看到的其他玩家
func runClient(ctx context.Context, cfg *config.Config) error {
	start := time.Now()
	spawn := cfg.SpawnTransform()
	local := protocol.TransformSourceFunc(func() protocol.Transform {
		angle := time.Since(start).Seconds()
		half := angle / 2
		return protocol.Transform{
			Position: vec.Vector3{
				X: spawn.Position.X + float32(5*math.Cos(angle)),
				Y: spawn.Position.Y,
				Z: spawn.Position.Z + float32(5*math.Sin(angle)),
			},
			Rotation: vec.Quaternion{Y: float32(math.Sin(half)), W: float32(math.Cos(half))},
		}
	})

	ents := client.NewMemoryEntities()
	c, err := client.New(client.Options{Config: cfg, Entities: ents, Local: local, Logger: logging.Log})
	if err != nil {
		return err
	}
	if err := c.Connect(ctx, cfg.Client.ServerAddress, cfg.Client.Username); err != nil {
		return err
	}
	defer c.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(ctx) })
	g.Go(func() error {
		report := time.NewTicker(5 * time.Second)
		defer report.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-c.Done():
				return errors.New("connection to server lost")
			case <-report.C:
				for _, e := range ents.All() {
					logging.Log.Infof("entity %d %s '%s' at %s", e.Handle, e.Role, e.Username, e.Transform.Position)
				}
			}
		}
	})
	return g.Wait()
}
