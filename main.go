package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func initLogger() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(output).With().Timestamp().Str("app", "meshchat").Logger()
}

func main() {
	initLogger()

	// 1. Parse flags
	host := flag.String("host", "0.0.0.0", "address for the web server to listen on")
	port := flag.Int("port", 8000, "port for the web server to listen on")
	identityFile := flag.String("identity-file", "", "path to a private identity file to use as the LXMF address")
	identityBase64 := flag.String("identity-base64", "", "base64 encoded private identity to use as the LXMF address")
	generateIdentityFile := flag.String("generate-identity-file", "", "generate a new identity, save it to the provided file path and exit")
	generateIdentityBase64 := flag.Bool("generate-identity-base64", false, "generate a new identity, print it as base64 and exit")
	reticulumConfigDir := flag.String("reticulum-config-dir", "", "config directory for an external mesh transport")
	storageDir := flag.String("storage-dir", "storage", "directory where per-identity state is kept")
	flag.Parse()

	// 2. Identity generation utilities exit early
	if *generateIdentityFile != "" {
		identity, err := NewIdentity()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate identity")
		}
		if err := identity.SaveIdentityFile(*generateIdentityFile); err != nil {
			log.Fatal().Err(err).Msg("failed to save identity")
		}
		log.Info().Str("path", *generateIdentityFile).Str("identity_hash", identity.HexHash()).Msg("new identity saved")
		return
	}
	if *generateIdentityBase64 {
		identity, err := NewIdentity()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate identity")
		}
		fmt.Println(base64.StdEncoding.EncodeToString(identity.PrivateKey()))
		return
	}

	// 3. Resolve the identity to run as
	identity, err := resolveIdentity(*identityFile, *identityBase64)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load identity")
	}
	log.Info().
		Str("identity_hash", identity.HexHash()).
		Str("lxmf_address", hex.EncodeToString(identity.DeliveryAddress())).
		Msg("identity ready")

	// 4. Per-identity storage layout
	identityDir := filepath.Join(*storageDir, "identities", identity.HexHash())
	if err := os.MkdirAll(identityDir, 0700); err != nil {
		log.Fatal().Err(err).Str("path", identityDir).Msg("failed to create storage dir")
	}
	configPath := filepath.Join(identityDir, "config.json")
	cfg := loadConfig(configPath)

	// 5. Open the message ledger
	store, err := NewMessageStore(filepath.Join(identityDir, "database.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open message store")
	}
	defer store.Close()

	// 6. Mesh stack and dispatcher
	if *reticulumConfigDir != "" {
		log.Warn().Str("path", *reticulumConfigDir).Msg("no external transport binding is compiled in, flag ignored")
	}
	stack := NewLoopbackStack(identity)
	dispatcher := NewDispatcher(stack, store, identity, cfg, configPath)
	dispatcher.Start()

	// 7. HTTP routes (Go 1.22+ method+pattern routing)
	srv := &Server{dispatcher: dispatcher, store: store, identity: identity}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", srv.handleIndex)
	mux.HandleFunc("GET /ws", srv.handleWebSocket)
	mux.HandleFunc("GET /api/v1/lxmf-messages", srv.handleLXMFMessages)
	mux.HandleFunc("GET /api/v1/address-qr", srv.handleAddressQR)

	httpServer := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", *host, *port),
		Handler:        mux,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("web server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("web server failed")
		}
	}()

	// 8. Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// Stopping the dispatcher closes every viewer session, which unblocks
	// their read loops before the HTTP server drains.
	dispatcher.Stop()
	stack.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("web server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

// resolveIdentity picks the identity to run as: an identity file wins, then
// inline base64, then a fresh random identity.
func resolveIdentity(identityFile, identityBase64 string) (*Identity, error) {
	if identityFile != "" {
		return LoadIdentityFile(identityFile)
	}
	if identityBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(identityBase64)
		if err != nil {
			return nil, fmt.Errorf("decode identity base64: %w", err)
		}
		return IdentityFromPrivateKey(raw)
	}

	identity, err := NewIdentity()
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("identity_base64", base64.StdEncoding.EncodeToString(identity.PrivateKey())).
		Msg("no identity provided, generated a random one: pass it via --identity-base64 to keep this address")
	return identity, nil
}
