// Command fakesim emulates the three external collaborators the harness
// drives, for local end-to-end runs without a real overlay network.
//
// Build it once and symlink it under each collaborator name:
//
//	go build -o /tmp/fakes/fakesim ./scripts/fakesim
//	ln -s /tmp/fakes/fakesim /tmp/fakes/latticesim
//	ln -s /tmp/fakes/fakesim /tmp/fakes/latticed
//	ln -s /tmp/fakes/fakesim /tmp/fakes/lattice-bench
//	PATH=/tmp/fakes:$PATH overbench reference --net-dir /tmp/fakenet
//
// The binary dispatches on the name it was invoked as.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

func main() {
	switch filepath.Base(os.Args[0]) {
	case "latticesim":
		runProvisioner(os.Args[1:])
	case "latticed":
		runClient(os.Args[1:])
	case "lattice-bench":
		runGenerator(os.Args[1:])
	default:
		log.Fatalf("invoke as latticesim, latticed, or lattice-bench (got %q)", os.Args[0])
	}
}

// runProvisioner handles `latticesim setup <dir>` and `latticesim teardown <dir>`.
func runProvisioner(args []string) {
	if len(args) != 2 {
		log.Fatalf("usage: latticesim setup|teardown <dir>")
	}
	verb, dir := args[0], args[1]

	switch verb {
	case "setup":
		if err := os.MkdirAll(filepath.Join(dir, "conf"), 0o755); err != nil {
			log.Fatalf("setup: %v", err)
		}
		conf := "# fake latticed configuration\nproxy_port = 9150\n"
		if err := os.WriteFile(filepath.Join(dir, "conf", "latticed.toml"), []byte(conf), 0o644); err != nil {
			log.Fatalf("setup: %v", err)
		}
		log.Printf("fake topology provisioned in %s", dir)
	case "teardown":
		if err := os.RemoveAll(dir); err != nil {
			log.Fatalf("teardown: %v", err)
		}
		log.Printf("fake topology removed from %s", dir)
	default:
		log.Fatalf("unknown verb %q", verb)
	}
}

// runClient handles `latticed --config <path>`: accept proxy connections
// until terminated.
func runClient(args []string) {
	fs := flag.NewFlagSet("latticed", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to client configuration")
	_ = fs.Parse(args)

	if *configPath != "" {
		if _, err := os.Stat(*configPath); err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:9150")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("fake client proxy listening on %s", ln.Addr())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	_ = ln.Close()
}

// runGenerator handles the workload generator invocation and writes a
// plausible artifact to --output.
func runGenerator(args []string) {
	fs := flag.NewFlagSet("lattice-bench", flag.ExitOnError)
	proxy := fs.String("proxy", "", "SOCKS proxy address")
	reference := fs.String("reference", "", "Reference server address")
	netDir := fs.String("net-dir", "", "Topology directory")
	outputPath := fs.String("output", "", "Artifact output path")
	delay := fs.Duration("delay", 100*time.Millisecond, "Simulated workload duration")
	_ = fs.Parse(args)

	if *outputPath == "" {
		log.Fatalf("--output is required")
	}

	time.Sleep(*delay)

	artifact := map[string]any{
		"proxy":     *proxy,
		"reference": *reference,
		"net_dir":   *netDir,
		"summary": map[string]any{
			"upload_bps":     8_000_000 + rand.Intn(4_000_000),
			"download_bps":   16_000_000 + rand.Intn(8_000_000),
			"ttfb_ms":        map[string]any{"p50": 180 + rand.Intn(80), "p90": 420 + rand.Intn(120)},
			"circuits_built": 3,
			"streams":        12,
		},
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		log.Fatalf("encode artifact: %v", err)
	}
	if err := os.WriteFile(*outputPath, data, 0o644); err != nil {
		log.Fatalf("write artifact: %v", err)
	}
	fmt.Printf("fake benchmark complete, artifact at %s\n", *outputPath)
}
