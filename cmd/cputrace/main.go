package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zyedidia/cputrace"
	"github.com/zyedidia/cputrace/pkg/hwcounter"
)

const Version = "0.1.0"

func fatal(a ...interface{}) {
	fmt.Fprintln(os.Stderr, a...)
	os.Exit(1)
}

func must(desc string, err error) {
	if err != nil {
		fatal(desc, ":", err)
	}
}

func metricsWriter(w io.Writer) cputrace.MetricsWriter {
	if opts.Csv {
		return cputrace.NewCSVWriter(w)
	}
	return cputrace.NewTableWriter(w)
}

func setupLogging() {
	level := log.ParseLevel(opts.LogLevel)
	if opts.Verbose {
		level = log.DebugLevel
	}
	logger := log.Logger{
		Level: level,
		Writer: &log.ConsoleWriter{
			ColorOutput:    true,
			EndWithMessage: true,
			Writer:         os.Stderr,
		},
	}
	cputrace.SetLogger(logger)
	hwcounter.SetLogger(logger)
}

func create(path string) io.WriteCloser {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	must("open-output", err)
	return f
}

// writeSamples writes one CSV record per recorded counter value.
func writeSamples(w io.Writer, stats []cputrace.Stats) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"anchor", "index", "metric", "value"})
	for _, s := range stats {
		for _, sample := range s.Samples {
			cw.Write([]string{
				s.Name,
				strconv.Itoa(s.Index),
				sample.Metric.Label(),
				strconv.FormatUint(sample.Value, 10),
			})
		}
	}
	cw.Flush()
	return cw.Error()
}

func serve(p *cputrace.Profiler, addr string) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(cputrace.NewCollector(p, "cputrace"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("serve :", err)
		}
	}()
	cputrace.Logger.Info().Str("address", addr).Msg("serving metrics, interrupt to exit")

	<-ctx.Done()
	srv.Shutdown(context.Background())
}

func main() {
	flagparser := flags.NewParser(&opts, flags.PrintErrors)
	flagparser.Usage = "[OPTIONS]"
	_, err := flagparser.Parse()
	if err != nil {
		os.Exit(1)
	}

	if opts.Help {
		flagparser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	if opts.Version {
		fmt.Println("cputrace version", Version)
		os.Exit(0)
	}

	setupLogging()

	if opts.List {
		if plat, err := hwcounter.CheckPlatform(); err != nil {
			fmt.Println("Platform check failed:", err)
		} else {
			fmt.Println("Platform:", plat)
		}

		metrics := hwcounter.Available()
		if len(metrics) == 0 {
			fmt.Println("No metrics found, do you have the right permissions?")
		}
		for _, m := range metrics {
			fmt.Printf("[metric]: %s (%s)\n", m, m.Label())
		}
		os.Exit(0)
	}

	events, err := cputrace.ParseFlags(opts.Events)
	must("event-parse", err)
	ws, err := selectWorkloads(opts.Workloads)
	must("workload-parse", err)
	if opts.Threads <= 0 || opts.Iterations <= 0 || opts.Size <= 0 {
		fatal("error: --threads, --iterations and --size must be positive")
	}

	cfg := cputrace.DefaultConfig()
	cfg.ArenaSize = opts.ArenaSize
	cfg.Growable = !opts.FixedArena
	cfg.RecordSamples = opts.Samples != ""
	cfg.ExcludeKernel = !opts.Kernel
	cfg.ExcludeHypervisor = !opts.Hypervisor

	p := cputrace.New(cfg)
	defer p.Close()

	must("start", p.Start())
	cputrace.Logger.Info().Stringer("platform", p.Platform()).Stringer("events", events).Msg("profiling started")

	run(p, ws, events, opts.Threads, opts.Iterations, opts.Size)
	must("stop", p.Stop())
	cputrace.Logger.Debug().Int64("sink", sink.Load()).Msg("workloads finished")

	stats, err := p.Snapshot()
	must("snapshot", err)
	must("sort", cputrace.SortStats(stats, opts.SortKey, opts.ReverseSort))

	var out io.WriteCloser = os.Stdout
	if opts.Output != "" {
		out = create(opts.Output)
	}
	must("write-summary", cputrace.WriteStats(metricsWriter(out), stats))
	if out != os.Stdout {
		must("close-output", out.Close())
	}

	if opts.Pprof != "" {
		f := create(opts.Pprof)
		must("write-pprof", cputrace.WriteProfile(f, stats))
		must("close-pprof", f.Close())
	}

	if opts.Samples != "" {
		f := create(opts.Samples)
		must("write-samples", writeSamples(f, stats))
		must("close-samples", f.Close())
	}

	if opts.Serve != "" {
		serve(p, opts.Serve)
	}
}
