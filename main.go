package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TeaEngineering/goartnet/artnet"
	"github.com/TeaEngineering/goartnet/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	ifaceName := flag.String("interface", "", "network interface (empty for auto)")
	portName := flag.String("port-name", "goartnet", "short name advertised in poll replies")
	passive := flag.Bool("passive", false, "suppress unsolicited poll replies")
	apiListen := flag.String("api-listen", ":8080", "HTTP status/metrics listen address (empty to disable)")
	debug := flag.Bool("debug", false, "log incoming/outgoing packets")
	flag.Parse()

	log.DefaultLogger = log.Logger{
		Level:  log.InfoLevel,
		Writer: &log.ConsoleWriter{Writer: os.Stderr},
	}
	if *debug {
		log.DefaultLogger.Level = log.DebugLevel
	}

	clientCfg := artnet.ClientConfig{
		Interface: *ifaceName,
		PortName:  *portName,
		Style:     artnet.StyleController,
		Passive:   *passive,
	}

	var ports []config.PortConfig
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("config error")
		}
		clientCfg = cfg.ClientConfig()
		ports = cfg.Ports
		if *ifaceName != "" {
			clientCfg.Interface = *ifaceName
		}
	}

	client := artnet.NewClient(clientCfg)

	// Positional args are universes to watch, e.g. "0:0:1"
	for _, arg := range flag.Args() {
		addr, err := artnet.ParsePortAddress(arg)
		if err != nil {
			log.Fatal().Err(err).Str("universe", arg).Msg("universe error")
		}
		ports = append(ports, config.PortConfig{
			Universe: config.UniverseAddr{Addr: addr},
			Output:   true,
		})
	}

	if err := client.Connect(); err != nil {
		log.Fatal().Err(err).Msg("artnet client error")
	}
	defer client.Stop()

	for _, p := range ports {
		if _, err := client.SetPortConfig(p.Universe.Addr, p.Input, p.Output); err != nil {
			log.Fatal().Err(err).Str("universe", p.Universe.String()).Msg("port config error")
		}
		log.Info().
			Str("universe", p.Universe.String()).
			Bool("input", p.Input).
			Bool("output", p.Output).
			Msg("configured port")
	}

	events, cancel := client.Events()
	defer cancel()
	go printEvents(events)

	if *apiListen != "" {
		go serveAPI(*apiListen, client)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			printStatus(client)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
}

func printEvents(events <-chan artnet.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case artnet.NodeDiscovered:
			log.Info().Stringer("node", e.Node).Msg("node discovered")
		case artnet.NodeChanged:
			log.Info().Stringer("node", e.Node).Msg("node changed")
		case artnet.NodePortAdded:
			log.Info().Stringer("node", e.Node).Stringer("port", e.Port).Msg("port added")
		case artnet.NodePortRemoved:
			log.Info().Stringer("node", e.Node).Stringer("port", e.Port).Msg("port removed")
		case artnet.UniverseDiscovered:
			log.Info().Stringer("universe", e.Universe).Msg("universe discovered")
		case artnet.UniverseDMX:
			log.Debug().
				Stringer("universe", e.Universe).
				Str("head", fmtBytes(e.Data[:8])).
				Msg("dmx")
		}
	}
}

func fmtBytes(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*3)
	for i, c := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hexdigits[c>>4], hexdigits[c&0x0F])
	}
	return string(out)
}

func printStatus(client *artnet.Client) {
	for _, n := range client.Nodes() {
		log.Info().Stringer("node", n).Int("ports", len(n.Ports)).Msg("status")
	}
	for _, u := range client.Universes() {
		log.Info().
			Stringer("universe", u).
			Int("publishers", len(u.Publishers)).
			Int("subscribers", len(u.Subscribers)).
			Msg("status")
	}
}

type nodeStatus struct {
	IP       string   `json:"ip"`
	Port     uint16   `json:"port"`
	Name     string   `json:"name"`
	LongName string   `json:"long_name"`
	Style    uint8    `json:"style"`
	Ports    []string `json:"ports"`
}

type universeStatus struct {
	Universe    string   `json:"universe"`
	Publishers  []string `json:"publishers"`
	Subscribers []string `json:"subscribers"`
}

func serveAPI(addr string, client *artnet.Client) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/nodes", func(w http.ResponseWriter, r *http.Request) {
		var out []nodeStatus
		for _, n := range client.Nodes() {
			ns := nodeStatus{
				IP:       n.IP,
				Port:     n.UDPPort,
				Name:     n.PortName,
				LongName: n.LongName,
				Style:    n.Style,
			}
			for _, p := range n.Ports {
				ns.Ports = append(ns.Ports, p.String())
			}
			out = append(out, ns)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/api/universes", func(w http.ResponseWriter, r *http.Request) {
		var out []universeStatus
		for _, u := range client.Universes() {
			us := universeStatus{Universe: u.String()}
			for _, n := range u.Publishers {
				us.Publishers = append(us.Publishers, n.IP)
			}
			for _, n := range u.Subscribers {
				us.Subscribers = append(us.Subscribers, n.IP)
			}
			out = append(out, us)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	log.Info().Str("addr", addr).Msg("api listening")
	server := &http.Server{Addr: addr, Handler: mux}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("api server error")
	}
}
