// Command docqa serves the document question-answering API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/smallnest/docqa/config"
	"github.com/smallnest/docqa/log"
	"github.com/smallnest/docqa/models"
	"github.com/smallnest/docqa/server"
	"github.com/smallnest/docqa/service"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func main() {
	configPath := flag.String("config", "docqa.yaml", "Path to the YAML config file")
	port := flag.String("port", "", "Server port (overrides the config file)")
	flag.Parse()

	if err := run(*configPath, *port); err != nil {
		fmt.Fprintln(os.Stderr, "docqa:", err)
		os.Exit(1)
	}
}

func run(configPath, port string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Server.Port = port
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := log.New(level, log.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	log.SetDefaultLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkpoints, closeStore, err := service.OpenCheckpointStore(ctx, cfg.Conversation)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer closeStore()

	svc := service.New(cfg, checkpoints, logger)
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.New(cfg, svc, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	fmt.Println(banner(cfg))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown: %v", err)
	}
	svc.Close()
	return nil
}

func banner(cfg *config.Config) string {
	rows := [][2]string{
		{"listen", "http://" + cfg.Addr()},
		{"frontend", "/frontend/ -> " + cfg.Server.FrontendDir},
		{"vector store", cfg.VectorStore.Backend + " @ " + cfg.Paths.VectorCacheDir},
		{"conversation", cfg.Conversation.Store},
		{"embeddings", strings.Join(models.SupportedEmbeddings(), ", ")},
		{"chat models", strings.Join(models.SupportedLLMs(), ", ")},
	}

	lines := []string{titleStyle.Render("docqa")}
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r[0])+r[1])
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
