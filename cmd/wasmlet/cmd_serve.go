package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/wasmlet/pkg/api"
	"github.com/jingkaihe/wasmlet/pkg/oci"
	"github.com/jingkaihe/wasmlet/pkg/policy"
	"github.com/jingkaihe/wasmlet/pkg/sandbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Fetch the configured module and serve it",
	Example: `  WASI_CONFIG='{"image":"oci://ghcr.io/example/reverse-text:v1"}' wasmlet serve
  IMAGE=ghcr.io/example/echo:v1 PORT=8080 wasmlet serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", "127.0.0.1", "Address to bind the HTTP listener on")
	serveCmd.Flags().Bool("debug", false, "Enable debug logging")

	viper.SetDefault("port", "8000")
	_ = viper.BindEnv("port", "PORT")
	_ = viper.BindEnv("image", api.ImageEnvVar)

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := cmd.Context()

	spec, err := api.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	imageRef := spec.Image
	if imageRef == "" {
		imageRef = viper.GetString("image")
	}
	if imageRef == "" {
		return ErrNoImage
	}

	logger.Info("fetching module", "image", imageRef)
	wasm, err := oci.Fetch(ctx, imageRef)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetchModule, err)
	}
	logger.Info("fetched module", "bytes", len(wasm))

	fuel, metered := sandbox.FuelBudget(spec)
	engine := sandbox.NewEngine(metered)
	pre, err := sandbox.Prepare(engine, wasm)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPrepareModule, err)
	}
	if metered {
		logger.Info("fuel metering enabled", "fuel_per_request", fuel)
	}

	pol := policy.Resolve(ctx, spec.Network, nil, logger)

	address, _ := cmd.Flags().GetString("address")
	bind := net.JoinHostPort(address, viper.GetString("port"))
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrListen, bind, err)
	}
	logger.Info("listening", "addr", ln.Addr().String())

	server := sandbox.NewServer(pre, spec, pol, logger)
	return server.Serve(ln)
}
