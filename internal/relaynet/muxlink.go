package relaynet

import (
	"io"
	"time"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/qpp"
	"github.com/xtaci/smux"
)

// LinkConfig describes one relay-link transport: the optional KCP tuning,
// cipher, compression and QPP obfuscation a frontend or backend may apply
// before its bytes reach the core. cmd/relayd fills one LinkConfig from
// its command-line flags and uses it for every kcp:// frontend and
// backend; it leaves the Smux* fields zero, so MuxConfig keeps smux's
// defaults for them.
type LinkConfig struct {
	Crypt       string
	Key         string
	DataShard   int
	ParityShard int
	MTU         int
	SndWnd      int
	RcvWnd      int
	NoDelay, Interval, Resend, NoCongestion int

	NoComp bool

	QPP      bool
	QPPCount int

	SmuxVersion       int
	SmuxMaxReceiveBuf int
	SmuxMaxStreamBuf  int
	SmuxMaxFrameSize  int
	SmuxKeepAlive     time.Duration
}

// MuxConfig builds and verifies an smux.Config from a LinkConfig.
func MuxConfig(cfg LinkConfig) (*smux.Config, error) {
	sc := smux.DefaultConfig()
	if cfg.SmuxVersion > 0 {
		sc.Version = cfg.SmuxVersion
	}
	if cfg.SmuxMaxReceiveBuf > 0 {
		sc.MaxReceiveBuffer = cfg.SmuxMaxReceiveBuf
	}
	if cfg.SmuxMaxStreamBuf > 0 {
		sc.MaxStreamBuffer = cfg.SmuxMaxStreamBuf
	}
	if cfg.SmuxMaxFrameSize > 0 {
		sc.MaxFrameSize = cfg.SmuxMaxFrameSize
	}
	if cfg.SmuxKeepAlive > 0 {
		sc.KeepAliveInterval = cfg.SmuxKeepAlive
	}
	return sc, smux.VerifyConfig(sc)
}

// applyKCPTuning applies stream mode, no write delay, the
// nodelay/interval/resend/nc quadruple, window sizes and MTU.
func applyKCPTuning(sess *kcp.UDPSession, cfg LinkConfig) {
	sess.SetStreamMode(true)
	sess.SetWriteDelay(false)
	sess.SetNoDelay(cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongestion)
	if cfg.SndWnd > 0 || cfg.RcvWnd > 0 {
		sess.SetWindowSize(cfg.SndWnd, cfg.RcvWnd)
	}
	if cfg.MTU > 0 {
		sess.SetMtu(cfg.MTU)
	}
}

// DialLink establishes an outbound relay-link transport to raddr: a KCP
// session tuned per cfg, optionally snappy-compressed, optionally
// obfuscated with QPP, carrying an smux client session a backend
// connection will OpenStream on.
func DialLink(raddr string, cfg LinkConfig, pad *qpp.QuantumPermutationPad, seed []byte) (*smux.Session, error) {
	block, effective := SelectBlockCrypt(cfg.Crypt, []byte(cfg.Key))
	cfg.Crypt = effective

	kcpconn, err := kcp.DialWithOptions(raddr, block, cfg.DataShard, cfg.ParityShard)
	if err != nil {
		return nil, errors.Wrap(err, "relaynet: dial")
	}
	applyKCPTuning(kcpconn, cfg)

	var rwc io.ReadWriteCloser = kcpconn
	if !cfg.NoComp {
		rwc = NewCompConn(kcpconn)
	}
	if pad != nil {
		rwc = NewObfuscatedConn(rwc, pad, seed)
	}

	smuxCfg, err := MuxConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "relaynet: smux config")
	}
	session, err := smux.Client(rwc, smuxCfg)
	if err != nil {
		return nil, errors.Wrap(err, "relaynet: smux client")
	}
	return session, nil
}

// ListenLink binds an inbound relay-link KCP listener tuned per cfg. Each
// accepted session still needs compression/QPP wrapping and
// smux.Server(...) per connection, mirrored by AcceptLink.
func ListenLink(laddr string, cfg LinkConfig) (*kcp.Listener, error) {
	block, effective := SelectBlockCrypt(cfg.Crypt, []byte(cfg.Key))
	cfg.Crypt = effective
	return kcp.ListenWithOptions(laddr, block, cfg.DataShard, cfg.ParityShard)
}

// AcceptLink wraps one accepted KCP session into an smux server session,
// applying the same compression/QPP layering DialLink uses on the client
// side, so both ends of a link agree on the wire format.
func AcceptLink(sess *kcp.UDPSession, cfg LinkConfig, pad *qpp.QuantumPermutationPad, seed []byte) (*smux.Session, error) {
	applyKCPTuning(sess, cfg)

	var rwc io.ReadWriteCloser = sess
	if !cfg.NoComp {
		rwc = NewCompConn(sess)
	}
	if pad != nil {
		rwc = NewObfuscatedConn(rwc, pad, seed)
	}

	smuxCfg, err := MuxConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "relaynet: smux config")
	}
	return smux.Server(rwc, smuxCfg)
}
