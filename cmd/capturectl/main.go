package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagecapture/internal/capture"
	"github.com/GriffinCanCode/pagecapture/internal/client"
	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/logging"
)

// cookieFlags collects repeated -cookie name=value flags
type cookieFlags []capture.Cookie

func (c *cookieFlags) String() string {
	parts := make([]string, len(*c))
	for i, ck := range *c {
		parts[i] = ck.Name + "=" + ck.Value
	}
	return strings.Join(parts, ",")
}

func (c *cookieFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("cookie %q: want name=value", v)
	}
	*c = append(*c, capture.Cookie{Name: name, Value: value})
	return nil
}

func main() {
	cfg := client.DefaultConfig()
	var (
		spec    capture.JobSpec
		cookies cookieFlags
		out     string
		verbose bool
	)
	flag.StringVar(&cfg.BaseURL, "server", cfg.BaseURL, "pagecapture server URL")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Overall request timeout")
	flag.StringVar(&spec.URL, "url", "", "Page to capture (required)")
	flag.StringVar(&spec.UserAgent, "useragent", "", "User agent override")
	flag.StringVar(&spec.Referer, "referer", "", "Referer header")
	flag.IntVar(&spec.SleepMillis, "sleep", 0, "Milliseconds to wait after load")
	flag.Var(&cookies, "cookie", "Cookie name=value, repeatable")
	flag.StringVar(&out, "out", ".", "Output directory")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	if spec.URL == "" {
		flag.Usage()
		os.Exit(2)
	}
	spec.Cookies = cookies

	logCfg := logging.Config{Level: "warn", Development: true, OutputPaths: []string{"stderr"}}
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, err := client.New(cfg, logger.Logger).Capture(ctx, spec)
	if err != nil {
		logger.Error("capture failed", zap.String("url", spec.URL), zap.Error(err))
		os.Exit(1)
	}

	files, err := writeOutputs(out, res)
	if err != nil {
		logger.Error("write outputs", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("captured %s in %s\n", res.LastRedirectedURL, time.Since(start).Round(time.Millisecond))
	for _, f := range files {
		fmt.Println("  " + f)
	}
	if res.HARError != "" {
		fmt.Fprintf(os.Stderr, "archive unavailable: %s\n", res.HARError)
	}
}
