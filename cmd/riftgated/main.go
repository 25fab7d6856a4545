// Riftgate daemon: embeds the proxy core with a config-driven policy
// oracle, an HTTP status surface, and Prometheus metrics.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/riftgate/riftgate/internal/backend"
	"github.com/riftgate/riftgate/internal/metrics"
	"github.com/riftgate/riftgate/proxy"
)

// Route is a static backend mapping for one virtual host.
type Route struct {
	RemoteHost    string `json:"remote_host"`
	RemotePort    uint16 `json:"remote_port"`
	Proxy         string `json:"proxy"`
	ProxyProtocol byte   `json:"proxy_protocol"`
	RewriteHost   string `json:"rewrite_host"`
	CacheTTLMs    int64  `json:"cache_ttl_ms"`
}

// Config holds daemon configuration.
type Config struct {
	Listen struct {
		Addr string `json:"addr"`
		Port uint16 `json:"port"`
	} `json:"listen"`
	HTTP struct {
		Listen string `json:"listen"`
	} `json:"http"`
	LogLevel        string `json:"log_level"`
	ProxyProtocolIn string `json:"proxy_protocol_in"`
	Motd            struct {
		VersionName string `json:"version_name"`
		Description string `json:"description"`
		MaxPlayers  int    `json:"max_players"`
		CacheTTLMs  int64  `json:"cache_ttl_ms"`
	} `json:"motd"`
	Routes    map[string]Route `json:"routes"`
	RateLimit struct {
		SendAvg   uint64 `json:"send_avg"`
		SendBurst uint64 `json:"send_burst"`
		RecvAvg   uint64 `json:"recv_avg"`
		RecvBurst uint64 `json:"recv_burst"`
	} `json:"ratelimit"`
}

func main() {
	cfgFile := flag.String("config", "config.json", "Path to configuration file")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Println("riftgated v0.1.0")
		os.Exit(0)
	}

	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	p := proxy.New()
	if code := p.InitLogging(cfg.LogLevel); code != proxy.OK {
		logrus.Fatalf("Failed to initialize logging: %s", code)
	}

	opts, _ := json.Marshal(proxy.Options{ProxyProtocolIn: cfg.ProxyProtocolIn})
	if code := p.SetOptions(string(opts)); code != proxy.OK {
		logrus.Fatalf("Bad proxy options: %s", code)
	}

	// The previous instance may still hold the port during a restart;
	// retry the bind with jittered backoff before giving up.
	var id uint64
	for attempt := 0; ; attempt++ {
		var code proxy.Code
		id, code = p.StartListener(cfg.Listen.Addr, cfg.Listen.Port)
		if code == proxy.OK {
			break
		}
		if attempt >= 4 {
			logrus.Fatalf("Failed to start listener: %s", code)
		}
		d := backend.Backoff(500*time.Millisecond, 5*time.Second)
		logrus.Warnf("Bind failed (%s); retrying in %s", code, d)
		time.Sleep(d)
	}
	logrus.Infof("Listener %d on %s:%d", id, cfg.Listen.Addr, cfg.Listen.Port)

	stop := make(chan struct{})
	go oracleLoop(p, cfg, stop)

	if cfg.HTTP.Listen != "" {
		metrics.RegisterPrometheus("riftgate", p.Collector())
		go httpServe(p, cfg.HTTP.Listen)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("Shutting down...")
	close(stop)
	p.Shutdown()
	logrus.Info("Shutdown complete")
}

// oracleLoop answers route and MOTD requests from the static config.
func oracleLoop(p *proxy.Proxy, cfg *Config, stop <-chan struct{}) {
	type request struct {
		ConnID uint64 `json:"connectionId"`
		PeerIP string `json:"peerIp"`
		Host   string `json:"host"`
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		for {
			raw, ok := p.PollRouteRequest()
			if !ok {
				break
			}
			var req request
			if err := json.Unmarshal([]byte(raw), &req); err != nil {
				continue
			}
			dec := routeFor(cfg, req.Host)
			p.SubmitRoutingDecision(req.ConnID, dec)
			if cfg.RateLimit.SendAvg > 0 || cfg.RateLimit.RecvAvg > 0 {
				p.SetRateLimit(req.ConnID,
					cfg.RateLimit.SendAvg, cfg.RateLimit.SendBurst,
					cfg.RateLimit.RecvAvg, cfg.RateLimit.RecvBurst)
			}
		}

		for {
			raw, ok := p.PollMotdRequest()
			if !ok {
				break
			}
			var req request
			if err := json.Unmarshal([]byte(raw), &req); err != nil {
				continue
			}
			p.SubmitMotdDecision(req.ConnID, motdFor(cfg))
		}

		for {
			raw, ok := p.PollDisconnectionEvent()
			if !ok {
				break
			}
			logrus.Debugf("Disconnection event: %s", raw)
		}
	}
}

// routeFor builds the route decision JSON for a virtual host.
func routeFor(cfg *Config, host string) string {
	rt, ok := cfg.Routes[host]
	if !ok {
		rt, ok = cfg.Routes["*"]
	}
	if !ok {
		return `{"disconnect":"Unknown server address."}`
	}

	dec := map[string]any{
		"remoteHost": rt.RemoteHost,
		"remotePort": rt.RemotePort,
	}
	if rt.Proxy != "" {
		dec["proxy"] = rt.Proxy
	}
	if rt.ProxyProtocol != 0 {
		dec["proxyProtocol"] = rt.ProxyProtocol
	}
	if rt.RewriteHost != "" {
		dec["rewriteHost"] = rt.RewriteHost
	}
	if rt.CacheTTLMs > 0 {
		dec["cache"] = map[string]any{"granularity": "ipHost", "ttl": rt.CacheTTLMs}
	}
	out, _ := json.Marshal(dec)
	return string(out)
}

// motdFor builds the MOTD decision JSON from the config.
func motdFor(cfg *Config) string {
	dec := map[string]any{
		"version": map[string]any{"name": cfg.Motd.VersionName, "protocol": -1},
		"players": map[string]any{"max": cfg.Motd.MaxPlayers, "online": 0},
		"description": map[string]any{
			"text": cfg.Motd.Description,
		},
	}
	if cfg.Motd.CacheTTLMs > 0 {
		dec["cache"] = map[string]any{"granularity": "ip", "ttl": cfg.Motd.CacheTTLMs}
	}
	out, _ := json.Marshal(dec)
	return string(out)
}

// httpServe exposes health, status, and Prometheus endpoints.
func httpServe(p *proxy.Proxy, listen string) {
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	})
	http.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snapshot, code := p.GetMetrics()
		if code != proxy.OK {
			http.Error(w, code.String(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(snapshot))
	})
	http.HandleFunc("/cache", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(p.CacheStats()))
	})
	http.Handle("/metrics", promhttp.Handler())

	logrus.Infof("http: listening on %s", listen)
	if err := http.ListenAndServe(listen, nil); err != nil {
		logrus.Errorf("http err: %v", err)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults if needed
	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = "0.0.0.0"
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 25565
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ProxyProtocolIn == "" {
		cfg.ProxyProtocolIn = "none"
	}
	if cfg.Motd.VersionName == "" {
		cfg.Motd.VersionName = "riftgate"
	}

	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("at least one route is required")
	}
	for host, rt := range cfg.Routes {
		if rt.RemoteHost == "" || rt.RemotePort == 0 {
			return nil, fmt.Errorf("route %q: remote_host and remote_port are required", host)
		}
	}
	return &cfg, nil
}
