// Command ircd runs one node of a federated IRC network: depending on
// its configured role it either accepts client and peer connections as
// the network's main server, or does the same while maintaining a single
// upstream link to the main server as a secondary.
package main

import (
	"flag"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/stapelberg/glog"

	"github.com/robustirc/ircfed/internal/config"
	"github.com/robustirc/ircfed/internal/federation"
	"github.com/robustirc/ircfed/internal/registry"
	"github.com/robustirc/ircfed/internal/session"
	"github.com/robustirc/ircfed/internal/statusapi"
	"github.com/robustirc/ircfed/internal/transfer"
)

const idleSweepInterval = 20 * time.Second

var (
	configPath = flag.String("config",
		"/etc/ircfed/ircd.toml",
		"Path to the TOML server configuration file.")
	envPath = flag.String("env",
		"",
		"Optional path to a .env file overlaying secrets (e.g. IRCFED_LINK_PASSWORD) onto the configuration.")
	statusListen = flag.String("status_listen",
		"",
		"[host]:port to serve the read-only JSON status API and /metrics on. Empty disables it.")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath, *envPath)
	if err != nil {
		glog.Fatalf("loading config: %v", err)
	}

	var admins []config.Admin
	if cfg.UsersFilePath != "" {
		admins, err = config.LoadAdmins(cfg.UsersFilePath)
		if err != nil {
			glog.Warningf("loading admins from %s: %v", cfg.UsersFilePath, err)
		}
	}

	reg := registry.New(cfg.MaxChannelsPerUser)
	engine := session.NewEngine(reg, cfg, admins)
	hub := federation.NewHub(engine, reg, cfg)
	broker := transfer.NewBroker(cfg.FileTransferChunkSize)

	engine.Fed = hub
	engine.Transfer = broker

	if cfg.Role == config.RoleSecondary {
		// Same bounded backoff as the federation package's reconnects:
		// 1s base, doubling, 60s cap, 8 attempts, then exit.
		delay := time.Second
		for attempt := 1; ; attempt++ {
			err := hub.ConnectToParent(tcpDialer{})
			if err == nil {
				break
			}
			if attempt == 8 {
				glog.Fatalf("connecting to main server %s: %v (gave up after %d attempts)", cfg.MainServerAddress, err, attempt)
			}
			glog.Warningf("connecting to main server %s (attempt %d/8): %v", cfg.MainServerAddress, attempt, err)
			time.Sleep(delay)
			if delay *= 2; delay > 60*time.Second {
				delay = 60 * time.Second
			}
		}
		hub.SetDialer(tcpDialer{})
	}

	go idleSweepLoop(engine)

	if *statusListen != "" {
		go serveStatus(&statusapi.Server{
			Registry:   reg,
			Hub:        hub,
			ServerName: cfg.ServerName,
			Started:    time.Now(),
		}, *statusListen)
	}

	glog.Infof("ircfed %s listening on %s (role=%s)", cfg.ServerName, cfg.Address, cfg.Role)
	if err := listenAndServe(cfg.Address, engine, hub); err != nil {
		glog.Fatalf("listening on %s: %v", cfg.Address, err)
	}
}

func idleSweepLoop(engine *session.Engine) {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		engine.IdleSweep()
	}
}

func serveStatus(s *statusapi.Server, addr string) {
	if err := http.ListenAndServe(addr, s.Handler()); err != nil {
		glog.Errorf("status API on %s: %v", addr, err)
	}
}

// listenAndServe accepts both client and server connections on one port,
// the classic ircd convention: a peer server identifies itself with PASS
// and/or SERVER before ever sending NICK/USER. A leading SERVER line is
// enough to route on its own; a leading PASS line is ambiguous (a client
// may also PASS before NICK/USER), so handleConn peeks a second line in
// that case before deciding.
func listenAndServe(addr string, engine *session.Engine, hub *federation.Hub) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			glog.Errorf("accept: %v", err)
			continue
		}
		go handleConn(conn, engine, hub)
	}
}

func handleConn(conn net.Conn, engine *session.Engine, hub *federation.Hub) {
	transport := newNetTransport(conn)
	first, err := transport.ReadLine()
	if err != nil {
		transport.Close()
		return
	}
	line := session.NormalizeLine(first)
	upper := strings.ToUpper(line)

	if strings.HasPrefix(upper, "SERVER") {
		hub.AcceptLink(transport, line)
		return
	}
	if strings.HasPrefix(upper, "PASS") {
		// A client may legitimately send PASS before NICK/USER too
		// (spec §4.3), so a lone leading PASS doesn't yet tell us
		// whether this is a peer link or a client. Peek one more
		// line: only a SERVER line confirms a link handshake.
		second, err := transport.ReadLine()
		if err != nil {
			transport.Close()
			return
		}
		secondLine := session.NormalizeLine(second)
		if strings.HasPrefix(strings.ToUpper(secondLine), "SERVER") {
			hub.AcceptLink(transport, line, secondLine)
			return
		}
		sess := engine.CreateSession(transport)
		go sess.Run()
		engine.HandleLine(sess, line)
		engine.HandleLine(sess, secondLine)
		runClientLoop(transport, engine, sess)
		return
	}

	sess := engine.CreateSession(transport)
	go sess.Run()
	engine.HandleLine(sess, line)
	runClientLoop(transport, engine, sess)
}

func runClientLoop(transport session.Transport, engine *session.Engine, sess *session.Session) {
	for {
		raw, err := transport.ReadLine()
		if err != nil {
			engine.Drop(sess, "Connection reset by peer")
			return
		}
		engine.HandleLine(sess, raw)
	}
}
