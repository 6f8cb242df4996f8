package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wasmlet",
	Short: "Per-workload runner serving one sandboxed wasm module over HTTP",
	Long: `wasmlet hosts a single WebAssembly module pulled from an OCI registry
and serves it behind an HTTP/1.1 endpoint. Every inbound request runs in a
fresh sandbox scoped by the capabilities the module spec declares:
filesystem mounts, environment, network address patterns, memory, and cpu.

Configuration arrives through the environment:
  WASI_CONFIG  JSON module spec (image, args, env, volumeMounts,
               resources, network)
  IMAGE        image reference, used when the spec's image field is empty
  PORT         HTTP listen port (default 8000)`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
