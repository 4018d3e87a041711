// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command relayd is the stream-forwarding daemon: it loads a topology,
// binds one listener per frontend, and drives every accepted stream
// through the single-threaded cooperative core (buffer/channel/siface/
// stream/scheduler) instead of a blocking io.Copy per connection. A
// backend address prefixed "kcp://" is dialed through internal/relaynet
// (KCP + smux, optionally snappy-compressed and QPP-obfuscated) rather
// than a plain net.Dial; the flags controlling that transport are global
// to the daemon, one link configuration per process.
package main

import (
	"crypto/sha1"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/qpp"
	"golang.org/x/crypto/pbkdf2"

	"github.com/streamrelay/streamrelay/internal/admin"
	"github.com/streamrelay/streamrelay/internal/analyse"
	"github.com/streamrelay/streamrelay/internal/applet"
	"github.com/streamrelay/streamrelay/internal/applet/h2"
	"github.com/streamrelay/streamrelay/internal/buffer"
	"github.com/streamrelay/streamrelay/internal/channel"
	"github.com/streamrelay/streamrelay/internal/config"
	"github.com/streamrelay/streamrelay/internal/health"
	"github.com/streamrelay/streamrelay/internal/lb"
	"github.com/streamrelay/streamrelay/internal/pool"
	"github.com/streamrelay/streamrelay/internal/relaylog"
	"github.com/streamrelay/streamrelay/internal/relaynet"
	"github.com/streamrelay/streamrelay/internal/scheduler"
	"github.com/streamrelay/streamrelay/internal/snmp"
	"github.com/streamrelay/streamrelay/internal/stick"
	"github.com/streamrelay/streamrelay/internal/stream"
)

// salt is used for pbkdf2 key expansion of the QPP seed.
const salt = "streamrelay"

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

// channelBufSize is the per-channel buffer capacity handed out by the
// pool for every stream; kept a single constant for now rather than a
// per-frontend tunable.
const channelBufSize = 64 * 1024

// fallbackTick bounds how long a stream's task may go without being
// re-run even if its ConnSource never signals progress, guarding against
// a missed wakeup stalling a stream forever.
const fallbackTick = 200 * time.Millisecond

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "relayd"
	app.Usage = "stream forwarding and load-balancing daemon"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "relayd.yaml", Usage: "topology file (YAML)"},
		cli.StringFlag{Name: "admin", Value: "/tmp/relayd.sock", Usage: "admin control socket path"},
		cli.StringFlag{Name: "log", Value: "", Usage: "redirect logging to this file instead of stdout"},
		cli.BoolFlag{Name: "quiet", Usage: "suppress per-stream open/close log lines"},
		cli.StringFlag{Name: "snmplog", Value: "", Usage: "log snmp counters to file with time.Format pattern"},
		cli.IntFlag{Name: "snmpperiod", Value: 60, Usage: "snmp snapshot period, in seconds"},
		cli.StringFlag{Name: "key", Value: "it's a secrect", Usage: "pre-shared secret for kcp:// backends/frontends", EnvVar: "RELAYD_KEY"},
		cli.StringFlag{Name: "crypt", Value: "aes", Usage: "cipher for kcp:// links: aes, aes-128, aes-192, aes-128-gcm, salsa20, blowfish, twofish, cast5, 3des, tea, xtea, xor, none, null"},
		cli.BoolFlag{Name: "qpp", Usage: "enable Quantum Permutation Pad obfuscation on kcp:// links"},
		cli.IntFlag{Name: "qppcount", Value: 61, Usage: "number of QPP pads (choose a prime)"},
		cli.BoolFlag{Name: "nocomp", Usage: "disable snappy compression on kcp:// links"},
		cli.IntFlag{Name: "mtu", Value: 1350, Usage: "kcp:// link MTU"},
		cli.IntFlag{Name: "sndwnd", Value: 128, Usage: "kcp:// link send window"},
		cli.IntFlag{Name: "rcvwnd", Value: 512, Usage: "kcp:// link receive window"},
		cli.IntFlag{Name: "datashard, ds", Value: 10, Usage: "kcp:// link FEC data shards"},
		cli.IntFlag{Name: "parityshard, ps", Value: 3, Usage: "kcp:// link FEC parity shards"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func run(c *cli.Context) error {
	topo, err := config.LoadYAML(c.String("config"))
	if err != nil {
		return errors.Wrap(err, "relayd: loading topology")
	}

	relayLog, logFile, err := openLog(c.String("log"), c.Bool("quiet"))
	if err != nil {
		return errors.Wrap(err, "relayd: opening log")
	}
	if logFile != nil {
		defer logFile.Close()
	}

	d := newDaemon(relayLog, c)

	if err := d.buildTopology(topo); err != nil {
		return err
	}

	adminSrv, err := admin.Listen(c.String("admin"), admin.New(relayLog, d.registry))
	if err != nil {
		return errors.Wrap(err, "relayd: binding admin socket")
	}
	defer adminSrv.Close()
	go func() {
		if err := adminSrv.Serve(); err != nil {
			relayLog.Warn("admin socket stopped: %v", err)
		}
	}()

	snmpLogger := snmp.NewLogger(c.String("snmplog"), &d.counters)
	snmpPeriod := time.Duration(c.Int("snmpperiod")) * time.Second

	for i := range topo.Frontends {
		if err := d.serveFrontend(&topo.Frontends[i]); err != nil {
			return err
		}
	}

	d.runLoop(snmpLogger, snmpPeriod)
	return nil
}

func openLog(path string, quiet bool) (*relaylog.Logger, *os.File, error) {
	if path == "" {
		return relaylog.New(os.Stdout, quiet), nil, nil
	}
	_, f, err := relaylog.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return relaylog.New(f, quiet), f, nil
}

// connPair is a fully dialed front/back connection pair handed off from
// an accept-loop goroutine to the single-threaded main loop, which is
// the only place streams, channels and the scheduler are ever touched.
type connPair struct {
	front    net.Conn
	back     net.Conn // nil when the frontend terminates via an applet (h2)
	frontend *config.Frontend
	backend  string
	server   *lb.Server
	h2       bool
}

type backendPool struct {
	cfg     config.Backend
	policy  lb.Policy
	servers []*lb.Server
	stick   *stick.Table
}

type daemon struct {
	log     *relaylog.Logger
	linkCfg relaynet.LinkConfig
	qppPad  *qpp.QuantumPermutationPad
	qppSeed []byte

	registry *admin.Registry
	backends map[string]*backendPool
	checker  *health.Checker
	sched    *scheduler.Scheduler
	bufPool  *pool.BufferPool

	nextID   uint64
	counters snmp.Counters

	stickTasks []*scheduler.Task

	newConns chan connPair
	events   chan *scheduler.Task
}

func newDaemon(l *relaylog.Logger, c *cli.Context) *daemon {
	d := &daemon{
		log:      l,
		registry: admin.NewRegistry(),
		backends: make(map[string]*backendPool),
		checker:  health.NewChecker(),
		sched:    scheduler.New(),
		bufPool:  pool.NewBufferPool(),
		newConns: make(chan connPair, 256),
		events:   make(chan *scheduler.Task, 1024),
	}

	d.linkCfg = relaynet.LinkConfig{
		Crypt:       c.String("crypt"),
		Key:         c.String("key"),
		DataShard:   c.Int("datashard"),
		ParityShard: c.Int("parityshard"),
		MTU:         c.Int("mtu"),
		SndWnd:      c.Int("sndwnd"),
		RcvWnd:      c.Int("rcvwnd"),
		NoDelay:     0, Interval: 40, Resend: 2, NoCongestion: 1,
		NoComp: c.Bool("nocomp"),
		QPP:    c.Bool("qpp"), QPPCount: c.Int("qppcount"),
	}

	if d.linkCfg.QPP {
		warnings, err := relaynet.ValidateQPPParams(d.linkCfg.QPPCount, d.linkCfg.Key)
		if err != nil {
			d.log.Warn("QPP disabled: %v", err)
			d.linkCfg.QPP = false
		}
		for _, w := range warnings {
			d.log.Warn("%s", w)
		}
		d.qppSeed = pbkdf2.Key([]byte(d.linkCfg.Key), []byte(salt), 4096, 32, sha1.New)
		d.qppPad = qpp.NewQPP(d.qppSeed, uint16(d.linkCfg.QPPCount))
	}

	return d
}

// buildTopology instantiates an lb.Server/stick.Table per backend and
// registers a health check + admin entry for every server, and an expiry
// task for every stick table.
func (d *daemon) buildTopology(topo *config.Topology) error {
	for _, b := range topo.Backends {
		bp := &backendPool{cfg: b, stick: stick.New(2 * time.Minute)}
		switch b.Policy {
		case "least_conn":
			bp.policy = lb.LeastConn{}
		default:
			bp.policy = &lb.RoundRobin{}
		}
		for _, sc := range b.Servers {
			s := lb.NewServer(sc.Name, sc.Addr, sc.Weight, sc.MaxConn)
			bp.servers = append(bp.servers, s)
			d.registry.Add(sc.Name, s)
			d.checker.Add(&health.Check{
				Name: sc.Name, Addr: plainAddr(sc.Addr), Target: s,
				Interval: 5 * time.Second, Timeout: 2 * time.Second,
				FailThreshold: 2, RiseThreshold: 1,
			})
		}
		d.backends[b.Name] = bp

		expire := bp.stick
		var stickTask *scheduler.Task
		stickTask = d.sched.NewTask(func(now time.Time) {
			expire.ExpireOnce(now)
			d.sched.Schedule(stickTask, now.Add(time.Minute))
		})
		d.sched.Schedule(stickTask, time.Now().Add(time.Minute))
		d.stickTasks = append(d.stickTasks, stickTask)
	}
	return nil
}

// plainAddr strips a "kcp://" scheme for health.Checker, which always
// dials plain TCP regardless of the backend's actual transport: a
// reachable UDP endpoint behind KCP cannot be probed with a TCP connect,
// so a kcp:// server simply isn't health-checked.
func plainAddr(addr string) string {
	return strings.TrimPrefix(addr, "kcp://")
}

// buildAnalysers translates a frontend's configured analyser names
// (the YAML "analysers:" list) into the channel.Analyser bits and
// analyse.Stage funcs that gate its request/response channels before
// the forwarding credit step runs, per the forwarding protocol's step
// 2. "h2" is reported separately rather than turned into a generic
// stage: an h2-terminated frontend attaches the H2 applet directly to
// its back stream interface instead (see startStream), which reads and
// writes its channels through InjectOutput/GetBlock directly and so
// never needs forwarding credit gated at all.
func buildAnalysers(names []string) (reqMask channel.Analyser, reqStages []analyse.Stage, resMask channel.Analyser, resStages []analyse.Stage, h2Term bool) {
	for _, n := range names {
		switch n {
		case "http_req":
			reqMask |= channel.AnalyzeHTTPReq
			reqStages = append(reqStages, analyse.Stage{Bit: channel.AnalyzeHTTPReq, Run: analyse.RequestLine})
		case "http_res":
			resMask |= channel.AnalyzeHTTPRes
			resStages = append(resStages, analyse.Stage{Bit: channel.AnalyzeHTTPRes, Run: analyse.StatusLine})
		case "h2":
			h2Term = true
		}
	}
	return
}

func (d *daemon) serveFrontend(f *config.Frontend) error {
	_, _, _, _, h2Term := buildAnalysers(f.Analysers)

	if strings.HasPrefix(f.Listen, "kcp://") {
		return d.serveKCPFrontend(f, strings.TrimPrefix(f.Listen, "kcp://"), h2Term)
	}

	ln, err := net.Listen("tcp", f.Listen)
	if err != nil {
		return errors.Wrapf(err, "relayd: listening on %s", f.Listen)
	}
	go d.acceptLoop(ln, f, h2Term)
	return nil
}

func (d *daemon) serveKCPFrontend(f *config.Frontend, laddr string, h2Term bool) error {
	pr, err := relaynet.ParsePortRange(laddr)
	if err != nil {
		return errors.Wrapf(err, "relayd: frontend %s", f.Name)
	}
	if pr.MinPort != pr.MaxPort {
		d.log.Warn("frontend %s: port range %d-%d given, binding only %d (multi-port fanout not implemented)", f.Name, pr.MinPort, pr.MaxPort, pr.MinPort)
		laddr = pr.Host + ":" + strconv.FormatUint(pr.MinPort, 10)
	}

	ln, err := relaynet.ListenLink(laddr, d.linkCfg)
	if err != nil {
		return errors.Wrapf(err, "relayd: listening kcp on %s", laddr)
	}
	go func() {
		for {
			sess, err := ln.AcceptKCP()
			if err != nil {
				d.log.Warn("kcp frontend %s stopped: %v", f.Name, err)
				return
			}
			go d.acceptKCPSession(sess, f, h2Term)
		}
	}()
	return nil
}

func (d *daemon) acceptKCPSession(sess *kcp.UDPSession, f *config.Frontend, h2Term bool) {
	muxSess, err := relaynet.AcceptLink(sess, d.linkCfg, d.qppPad, d.qppSeed)
	if err != nil {
		d.log.Warn("kcp frontend %s: smux accept failed: %v", f.Name, err)
		sess.Close()
		return
	}
	for {
		strm, err := muxSess.AcceptStream()
		if err != nil {
			return
		}
		d.dispatch(strm, f, h2Term)
	}
}

func (d *daemon) acceptLoop(ln net.Listener, f *config.Frontend, h2Term bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			d.log.Warn("frontend %s stopped: %v", f.Name, err)
			return
		}
		go d.dispatch(conn, f, h2Term)
	}
}

// dispatch runs on an accept-loop goroutine: it performs the blocking
// backend dial itself (never on the main loop) and hands the finished
// pair off to runLoop, which alone constructs stream/channel/scheduler
// state.
func (d *daemon) dispatch(front net.Conn, f *config.Frontend, h2Term bool) {
	if h2Term {
		d.newConns <- connPair{front: front, frontend: f, h2: true}
		return
	}

	bp, ok := d.backends[f.DefaultBackend]
	if !ok {
		front.Close()
		return
	}

	clientIP := hostOf(front.RemoteAddr())
	srv := d.pickServer(bp, clientIP)
	if srv == nil {
		d.counters.ConnectErrors.Add(1)
		front.Close()
		return
	}

	back, err := d.dialServer(srv)
	if err != nil {
		d.counters.ConnectErrors.Add(1)
		front.Close()
		return
	}

	d.newConns <- connPair{front: front, back: back, frontend: f, backend: bp.cfg.Name, server: srv}
}

func (d *daemon) pickServer(bp *backendPool, clientIP string) *lb.Server {
	if clientIP != "" {
		if name, ok := bp.stick.Get(clientIP, time.Now()); ok {
			for _, s := range bp.servers {
				if s.Name == name && s.Up() {
					return s
				}
			}
		}
	}
	srv := bp.policy.Pick(bp.servers)
	if srv != nil && clientIP != "" {
		bp.stick.Set(clientIP, srv.Name, time.Now())
	}
	return srv
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (d *daemon) dialServer(srv *lb.Server) (net.Conn, error) {
	if strings.HasPrefix(srv.Addr, "kcp://") {
		sess, err := relaynet.DialLink(strings.TrimPrefix(srv.Addr, "kcp://"), d.linkCfg, d.qppPad, d.qppSeed)
		if err != nil {
			return nil, err
		}
		return sess.OpenStream()
	}
	return net.Dial("tcp", srv.Addr)
}

// runLoop is the single goroutine permitted to touch the scheduler, any
// Stream, Channel or stream Interface: ConnSource pump goroutines and
// accept-loop goroutines only ever hand data across the newConns/events
// channels this loop drains.
func (d *daemon) runLoop(snmpLogger *snmp.Logger, snmpPeriod time.Duration) {
	ticker := time.NewTicker(fallbackTick)
	defer ticker.Stop()

	healthTicker := time.NewTicker(time.Second)
	defer healthTicker.Stop()

	var snmpTicker *time.Ticker
	var snmpC <-chan time.Time
	if snmpPeriod > 0 {
		snmpTicker = time.NewTicker(snmpPeriod)
		defer snmpTicker.Stop()
		snmpC = snmpTicker.C
	}

	for {
		select {
		case pair := <-d.newConns:
			d.startStream(pair)
		case t := <-d.events:
			d.sched.Wake(t)
		case <-healthTicker.C:
			d.checker.ProbeOnce(time.Now())
		case <-snmpC:
			if err := snmpLogger.SnapshotOnce(time.Now()); err != nil {
				d.log.Warn("snmp snapshot failed: %v", err)
			}
		case <-ticker.C:
		}
		d.sched.Step(time.Now())
	}
}

func (d *daemon) startStream(pair connPair) {
	id := atomic.AddUint64(&d.nextID, 1)

	reqSlice := d.bufPool.Get(channelBufSize)
	resSlice := d.bufPool.Get(channelBufSize)
	reqCh := channel.New(buffer.NewFromSlice(*reqSlice))
	resCh := channel.New(buffer.NewFromSlice(*resSlice))

	st := stream.New(id, reqCh, resCh)
	st.Frontend = pair.frontend.Name
	st.Backend = pair.backend
	if pair.server != nil {
		st.Server = pair.server.Name
		pair.server.Acquire()
	}

	// An h2-terminated stream's applet drives reqCh/resCh directly via
	// InjectOutput/GetBlock, bypassing the forwarding credit mechanism
	// entirely, so it needs neither an analysers mask nor forward
	// credit wired up here. Every other stream is either plain
	// passthrough (no analysers configured: grant forwarding credit
	// immediately) or gated on one or more analyser stages that grant
	// it once they all report done (see internal/analyse.Run).
	if !pair.h2 {
		reqMask, reqStages, resMask, resStages, _ := buildAnalysers(pair.frontend.Analysers)
		reqCh.Analysers = reqMask
		resCh.Analysers = resMask
		st.ReqStages = reqStages
		st.ResStages = resStages
		if reqMask == 0 {
			reqCh.Forward(channel.Infinite)
		}
		if resMask == 0 {
			resCh.Forward(channel.Infinite)
		}
	}

	// task is allocated before the ConnSources so their background pump
	// goroutines always have a non-nil task to hand to wake(), even if a
	// pump fires before the rest of this function finishes setting up —
	// the task's real step logic is installed into runStep afterward and
	// is only ever invoked from the single main-loop goroutine.
	var runStep func(now time.Time)
	task := d.sched.NewTask(func(now time.Time) { runStep(now) })
	st.Task = task

	wake := func() {
		select {
		case d.events <- task:
		default:
		}
	}

	frontSrc := relaynet.NewConnSource(pair.front, channelBufSize, wake)
	st.SI0.Attach(frontSrc)

	var backSrc *relaynet.ConnSource
	var h2ctx *applet.Context
	if pair.h2 {
		h2ctx = h2.New("h2-term", resCh, reqCh)
		st.SI1.AttachApplet(h2ctx)
	} else {
		backSrc = relaynet.NewConnSource(pair.back, channelBufSize, wake)
		st.SI1.Attach(backSrc)
	}

	d.log.StreamOpened(id, st.Frontend)
	d.counters.StreamsOpened.Add(1)

	runStep = func(now time.Time) {
		st.Advance(now)
		if h2ctx != nil {
			if h2ctx.Runnable() {
				h2ctx.Run()
			}
			if h2ctx.St0 == applet.St0Closed {
				st.SI1.Abort()
			}
		}

		if st.Freeable() {
			st.Free("closed")
			if rel := reqCh.Buf().Release(); rel != nil {
				d.bufPool.Put(&rel)
			}
			if rel := resCh.Buf().Release(); rel != nil {
				d.bufPool.Put(&rel)
			}
			frontSrc.Close()
			if backSrc != nil {
				backSrc.Close()
			}
			if h2ctx != nil {
				h2ctx.Release()
			}
			if pair.server != nil {
				pair.server.Release()
			}
			d.counters.StreamsClosed.Add(1)
			d.counters.BytesIn.Add(st.Log.BytesIn)
			d.counters.BytesOut.Add(st.Log.BytesOut)
			d.log.StreamClosed(relaylog.StreamSummary{
				ID: id, Frontend: st.Frontend, Backend: st.Backend, Server: st.Server,
				BytesIn: st.Log.BytesIn, BytesOut: st.Log.BytesOut, Reason: st.Log.Reason,
			})
			d.sched.Cancel(task)
			return
		}

		d.sched.Schedule(task, now.Add(fallbackTick))
	}

	d.sched.Wake(task)
}
