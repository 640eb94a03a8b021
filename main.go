package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"redmine-mcp-server/internal/application"
	"redmine-mcp-server/internal/domain"
	"redmine-mcp-server/internal/infrastructure"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "redmine-mcp-server",
		Short: "MCP server exposing a Redmine instance as tools",
		Long: `redmine-mcp-server bridges the Model Context Protocol and the Redmine
REST API. It serves issue, project, user and time tracking tools over
stdio or HTTP, resolving status, priority, tracker, activity and user
names through a persisted per-domain cache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	rootCmd.AddCommand(setKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setKeyCmd stores the Redmine API key for the configured domain in the OS
// keyring, so the config file never has to contain the secret.
func setKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the Redmine API key in the OS keyring",
		Long: `Reads an API key from stdin and stores it in the OS keyring under the
domain configured in the config file. Set api_key_from_keyring: true in
the config to use it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := domain.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "API key for %s: ", config.Redmine.Domain)
			reader := bufio.NewReader(cmd.InOrStdin())
			key, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("API key must not be empty")
			}

			if err := keyring.Set(domain.KeyringService, config.Redmine.Domain, key); err != nil {
				return fmt.Errorf("failed to store API key in keyring: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "API key stored for %s\n", config.Redmine.Domain)
			return nil
		},
	}
}

func runServer() error {
	// Load configuration
	log.Printf("Loading configuration from: %s", configPath)
	config, err := domain.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Println("Configuration loaded successfully")

	apiKey, err := config.Redmine.ResolveAPIKey()
	if err != nil {
		return fmt.Errorf("failed to resolve API key: %w", err)
	}

	// Create the Redmine client and the enumeration cache backed by it
	client := infrastructure.NewClient(
		config.Redmine.Domain,
		apiKey,
		time.Duration(config.Redmine.TimeoutSeconds)*time.Second,
	)
	cache := infrastructure.NewEnumCache(config.Redmine.Domain, config.Redmine.CacheDir, client)
	log.Printf("Resolution cache at: %s", cache.FilePath())

	// Warm the cache in the background. A failure here is not fatal; the
	// cache retries on the next name resolution.
	go func() {
		if err := cache.Refresh(); err != nil {
			log.Printf("Initial cache refresh failed (will retry on demand): %v", err)
		} else {
			log.Println("Resolution cache warmed")
		}
	}()

	// Create response mapper and handler
	mapper := domain.NewResponseMapper()
	redmineHandler := application.NewRedmineHandler(client, cache, mapper)

	// Create request router
	router := application.NewRequestRouter(redmineHandler)
	log.Println("Request router initialized")

	// Create transport based on configuration
	var transport domain.Transport
	switch config.Transport.Type {
	case "stdio":
		log.Println("Initializing stdio transport")
		transport = domain.NewStdioTransport()
	case "http":
		log.Printf("Initializing HTTP transport on %s:%d", config.Transport.HTTP.Host, config.Transport.HTTP.Port)
		transport = domain.NewHTTPTransport(config.Transport.HTTP.Host, config.Transport.HTTP.Port)
	default:
		return fmt.Errorf("invalid transport type: %s", config.Transport.Type)
	}

	// Create server with all dependencies
	server := application.NewServer(transport, router, config)
	log.Println("MCP server created")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Println("Starting MCP server...")
		if err := server.Start(ctx); err != nil {
			errChan <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	if config.Transport.Type == "stdio" {
		log.Println("MCP server started successfully (stdio transport)")
	} else {
		log.Printf("MCP server started successfully (HTTP transport on %s:%d)",
			config.Transport.HTTP.Host, config.Transport.HTTP.Port)
	}

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		log.Println("Initiating graceful shutdown...")
		cancel()
	case err := <-errChan:
		log.Printf("Server error: %v", err)
		cancel()
		_ = server.Close()
		return err
	}

	if err := server.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
		return err
	}

	log.Println("Server shutdown complete")
	return nil
}
