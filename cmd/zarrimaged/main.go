// Command zarrimaged serves a Zarr v2 virtual projection of an image
// repository's pixel and region-of-interest data. Adapted from
// Perkeep's server/camlistored/camlistored.go: flag-driven config file
// path, JSON config load into a validated settings bundle, handler
// construction, then a single blocking Serve call — with the TLS
// bootstrap, signal-driven graceful restart, and config-autogeneration
// machinery stripped, since this service always runs as one plain-HTTP
// process under a process supervisor (spec.md §6).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/scireader/zarrimaged/internal/buffercache"
	"github.com/scireader/zarrimaged/internal/config"
	"github.com/scireader/zarrimaged/internal/metacache"
	"github.com/scireader/zarrimaged/internal/upstream"
	"github.com/scireader/zarrimaged/internal/upstream/objtiles"
	"github.com/scireader/zarrimaged/internal/upstream/sqlmeta"
	"github.com/scireader/zarrimaged/internal/webserver"
	"github.com/scireader/zarrimaged/internal/zarrhttp"
)

var (
	flagConfigFile = flag.String("configfile", "", "path to the service's JSON config file")
	flagListen     = flag.String("listen", "", "host:port to listen on; overrides the config file's net.port")
)

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func loadConfigFile(path string) (config.Obj, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var raw config.Obj
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return raw, nil
}

func main() {
	flag.Parse()

	if *flagConfigFile == "" {
		exitf("-configfile is required")
	}
	rawConfig, err := loadConfigFile(*flagConfigFile)
	if err != nil {
		exitf("reading config: %v", err)
	}
	cfg, err := config.Load(rawConfig)
	if err != nil {
		exitf("invalid config: %v", err)
	}
	log.Printf("zarrimaged starting: %s", cfg.LogSummary())

	sqlSource, err := sqlmeta.Open(cfg.MetadataDriver, cfg.MetadataDSN)
	if err != nil {
		exitf("opening metadata source: %v", err)
	}
	meta := metacache.Wrap(sqlSource)

	pixels, err := openPixelSource(cfg)
	if err != nil {
		exitf("opening pixel source: %v", err)
	}

	cache := buffercache.New(cfg.BufferCacheSize, meta, pixels, nil)

	reg := prometheus.NewRegistry()
	handler, err := zarrhttp.NewHandler(meta, pixels, cache, cfg, nil, reg)
	if err != nil {
		exitf("constructing handler: %v", err)
	}

	ws := webserver.New()
	ws.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	ws.Handle("/", handler)

	listen := *flagListen
	if listen == "" {
		listen = fmt.Sprintf(":%d", cfg.Port)
	}
	if err := ws.Listen(listen); err != nil {
		exitf("listen: %v", err)
	}
	log.Printf("available on %s", ws.ListenURL())
	ws.Serve(cfg.Port)
}

// openPixelSource constructs the upstream.PixelSource named by
// cfg.PixelBackend.
func openPixelSource(cfg *config.Config) (upstream.PixelSource, error) {
	switch cfg.PixelBackend {
	case "gcs":
		return objtiles.NewGCS(context.Background(), cfg.PixelBucket, "")
	default:
		return objtiles.NewS3(cfg.PixelBucket, "")
	}
}
