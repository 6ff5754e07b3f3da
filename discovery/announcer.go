package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

const DefaultAnnounceInterval = 1 * time.Second

type AnnouncerOptions struct {
	// Host and Port of the server being announced
	Host string
	Port int

	// Target is where announcements are sent, the multicast group by default
	Target string

	Interval time.Duration

	Log *zap.Logger
}

// Announcer periodically tells the local network where a server is.
type Announcer struct {
	conn    net.PacketConn
	target  *net.UDPAddr
	payload []byte

	interval time.Duration

	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	log *zap.Logger
}

func NewAnnouncer(opts AnnouncerOptions) (*Announcer, error) {
	if opts.Target == "" {
		opts.Target = net.JoinHostPort(DefaultGroup, strconv.Itoa(DefaultPort))
	}

	if opts.Interval <= 0 {
		opts.Interval = DefaultAnnounceInterval
	}

	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	target, err := net.ResolveUDPAddr("udp4", opts.Target)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}

	log := opts.Log.Named("announcer").With(zap.String("target", target.String()))

	if target.IP.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)

		// Stay on the local network and let clients on this host hear us.
		if err := pc.SetMulticastTTL(1); err != nil {
			log.Debug("Failed to set multicast TTL", zap.Error(err))
		}

		if err := pc.SetMulticastLoopback(true); err != nil {
			log.Debug("Failed to enable multicast loopback", zap.Error(err))
		}
	}

	return &Announcer{
		conn:     conn,
		target:   target,
		payload:  FormatAnnouncement(opts.Host, opts.Port),
		interval: opts.Interval,
		log:      log,
	}, nil
}

// Announce sends a single announcement.
func (a *Announcer) Announce() error {
	_, err := a.conn.WriteTo(a.payload, a.target)
	return err
}

// Start announces every interval until ctx is cancelled or Close is called.
func (a *Announcer) Start(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	a.cancel = cancel

	a.log.Info("Announcing server", zap.ByteString("announcement", a.payload))

	a.stopWaiter.Add(1)
	go func() {
		defer a.stopWaiter.Done()

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			if err := a.Announce(); err != nil {
				a.log.Warn("Failed to announce", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (a *Announcer) Close() error {
	if a.cancel != nil {
		a.cancel()
	}

	a.stopWaiter.Wait()

	return a.conn.Close()
}
