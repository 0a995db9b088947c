// Command sptps-demo carries SPTPS handshake and application traffic over a
// real network transport: a gorilla/websocket connection for a single
// session's stream records, or a plain TCP connection multiplexed with
// hashicorp/yamux into one SPTPS session per stream. It exists to exercise
// the transport package end to end; SPTPS itself never touches a socket.
package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/floegence/sptps"
	"github.com/floegence/sptps/internal/version"
	"github.com/floegence/sptps/keys"
	"github.com/floegence/sptps/observability"
	"github.com/floegence/sptps/observability/prom"
)

var (
	buildVersion = "dev"
	commit       = "unknown"
	date         = "unknown"
)

const (
	recordTypeGreeting  uint8 = 0
	recordTypeKeepalive uint8 = 1
)

type ready struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Date       string `json:"date"`
	Mode       string `json:"mode"`
	Transport  string `json:"transport"`
	Listen     string `json:"listen,omitempty"`
	MetricsURL string `json:"metrics_url,omitempty"`
	Sessions   int    `json:"sessions"`
}

type config struct {
	mode           string
	transportKind  string
	listen         string
	dial           string
	wsPath         string
	privFile       string
	peerPubFile    string
	label          string
	metricsListen  string
	sessions       int
	idleTimeoutSec int
	preferred      sptps.Suite
}

// demo holds everything serveWS/serveYamux/dialWS/dialYamux need to build
// sptps.Sessions: identity material, the configured options, and the shared
// observer and logger every session is wired to.
type demo struct {
	cfg      config
	id       *keys.Identity
	peerPub  ed25519.PublicKey
	observer observability.SessionObserver
	log      *log.Logger
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := config{
		mode:           envString("SPTPS_DEMO_MODE", "server"),
		transportKind:  envString("SPTPS_DEMO_TRANSPORT", "ws"),
		listen:         envString("SPTPS_DEMO_LISTEN", "127.0.0.1:9443"),
		dial:           envString("SPTPS_DEMO_DIAL", "127.0.0.1:9443"),
		wsPath:         envString("SPTPS_DEMO_WS_PATH", "/sptps"),
		privFile:       envString("SPTPS_DEMO_PRIVATE_KEY_FILE", ""),
		peerPubFile:    envString("SPTPS_DEMO_PEER_PUBLIC_KEY_FILE", ""),
		label:          envString("SPTPS_DEMO_LABEL", "sptps-demo"),
		metricsListen:  envString("SPTPS_DEMO_METRICS_LISTEN", ""),
	}
	var err error
	if cfg.sessions, err = envIntWithErr("SPTPS_DEMO_SESSIONS", 1); err != nil {
		fmt.Fprintf(stderr, "invalid SPTPS_DEMO_SESSIONS: %v\n", err)
		return 2
	}
	if cfg.idleTimeoutSec, err = envIntWithErr("SPTPS_DEMO_IDLE_TIMEOUT_SECONDS", 60); err != nil {
		fmt.Fprintf(stderr, "invalid SPTPS_DEMO_IDLE_TIMEOUT_SECONDS: %v\n", err)
		return 2
	}
	preferredFlag := envString("SPTPS_DEMO_PREFERRED_SUITE", "chacha20poly1305")

	showVersion := false
	fs := flag.NewFlagSet("sptps-demo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&cfg.mode, "mode", cfg.mode, "server or client (env: SPTPS_DEMO_MODE)")
	fs.StringVar(&cfg.transportKind, "transport", cfg.transportKind, "ws (single session) or yamux (multiplexed sessions) (env: SPTPS_DEMO_TRANSPORT)")
	fs.StringVar(&cfg.listen, "listen", cfg.listen, "server listen address (env: SPTPS_DEMO_LISTEN)")
	fs.StringVar(&cfg.dial, "dial", cfg.dial, "client dial address (env: SPTPS_DEMO_DIAL)")
	fs.StringVar(&cfg.wsPath, "ws-path", cfg.wsPath, "websocket path, transport=ws only (env: SPTPS_DEMO_WS_PATH)")
	fs.StringVar(&cfg.privFile, "private-key-file", cfg.privFile, "this side's identity, from sptps-keygen (required) (env: SPTPS_DEMO_PRIVATE_KEY_FILE)")
	fs.StringVar(&cfg.peerPubFile, "peer-public-key-file", cfg.peerPubFile, "the peer's public key, from sptps-keygen (required) (env: SPTPS_DEMO_PEER_PUBLIC_KEY_FILE)")
	fs.StringVar(&cfg.label, "label", cfg.label, "PRF domain-separation label, must match on both sides (env: SPTPS_DEMO_LABEL)")
	fs.StringVar(&cfg.metricsListen, "metrics-listen", cfg.metricsListen, "listen address for a Prometheus /metrics endpoint (empty disables) (env: SPTPS_DEMO_METRICS_LISTEN)")
	fs.IntVar(&cfg.sessions, "sessions", cfg.sessions, "number of multiplexed SPTPS sessions, transport=yamux only (env: SPTPS_DEMO_SESSIONS)")
	fs.IntVar(&cfg.idleTimeoutSec, "idle-timeout-seconds", cfg.idleTimeoutSec, "idle timeout used to derive the keepalive interval, 0 disables keepalives (env: SPTPS_DEMO_IDLE_TIMEOUT_SECONDS)")
	fs.StringVar(&preferredFlag, "preferred-suite", preferredFlag, "chacha20poly1305 or aes256gcm (env: SPTPS_DEMO_PREFERRED_SUITE)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, version.String(buildVersion, commit, date))
		return 0
	}

	usageErr := func(msg string) int {
		if msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		fs.Usage()
		return 2
	}

	suite, err := parsePreferredSuite(preferredFlag)
	if err != nil {
		return usageErr(err.Error())
	}
	cfg.preferred = suite

	if cfg.mode != "server" && cfg.mode != "client" {
		return usageErr("--mode must be server or client")
	}
	if cfg.transportKind != "ws" && cfg.transportKind != "yamux" {
		return usageErr("--transport must be ws or yamux")
	}
	if cfg.privFile == "" || cfg.peerPubFile == "" {
		return usageErr("missing --private-key-file or --peer-public-key-file")
	}
	if cfg.sessions < 1 {
		cfg.sessions = 1
	}

	id, err := keys.LoadPrivateKeyFile(cfg.privFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	_, peerPub, err := keys.LoadPublicKeyFile(cfg.peerPubFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	logger := log.New(stderr, "", log.LstdFlags)

	observer := observability.NewAtomicSessionObserver()
	var metricsURL string
	if cfg.metricsListen != "" {
		reg := prom.NewRegistry()
		observer.Set(prom.NewSessionObserver(reg))
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler(reg))
		ln, err := net.Listen("tcp", cfg.metricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		metricsURL = "http://" + ln.Addr().String() + "/metrics"
		go func() {
			if err := http.Serve(ln, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	d := &demo{
		cfg:      cfg,
		id:       id,
		peerPub:  peerPub,
		observer: observer,
		log:      logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch {
	case cfg.mode == "server" && cfg.transportKind == "ws":
		runErr = d.serveWS(ctx, stdout, metricsURL)
	case cfg.mode == "server" && cfg.transportKind == "yamux":
		runErr = d.serveYamux(ctx, stdout, metricsURL)
	case cfg.mode == "client" && cfg.transportKind == "ws":
		runErr = d.dialWS(ctx, stdout, metricsURL)
	case cfg.mode == "client" && cfg.transportKind == "yamux":
		runErr = d.dialYamux(ctx, stdout, metricsURL)
	}
	if runErr != nil {
		fmt.Fprintln(stderr, runErr)
		return 1
	}
	return 0
}

func parsePreferredSuite(s string) (sptps.Suite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chacha20poly1305", "":
		return sptps.SuiteChaCha20Poly1305, nil
	case "aes256gcm":
		return sptps.SuiteAES256GCM, nil
	default:
		return 0, fmt.Errorf("unknown --preferred-suite %q", s)
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntWithErr(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// upperEcho is the demo application protocol: a greeting gets echoed back
// uppercased. It stands in for whatever real payload a caller would route
// through SendRecord/ReceiveRecord.
func upperEcho(sess *sptps.Session) func([]byte) error {
	return func(data []byte) error {
		return sess.SendRecord(recordTypeGreeting, bytes.ToUpper(data))
	}
}

