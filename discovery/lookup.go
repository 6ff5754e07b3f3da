package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

const (
	DefaultRounds       = 5
	DefaultRoundTimeout = 1 * time.Second

	maxDatagramSize = 256
)

type Options struct {
	// Group is the multicast group to join
	Group string

	// Port to listen for announcements on
	Port int

	// Rounds is how many times we wait RoundTimeout for an announcement
	Rounds int

	RoundTimeout time.Duration

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Group == "" {
		o.Group = DefaultGroup
	}

	if o.Port <= 0 {
		o.Port = DefaultPort
	}

	if o.Rounds < 1 {
		o.Rounds = DefaultRounds
	}

	if o.RoundTimeout <= 0 {
		o.RoundTimeout = DefaultRoundTimeout
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

// Lookup listens for a server announcement and returns the first well formed
// one. ok is false when nothing usable arrived within the configured rounds
// or ctx was cancelled; callers are expected to fall back to a configured
// host in that case.
func Lookup(ctx context.Context, opts Options) (result Result, ok bool) {
	opts = opts.withDefaults()
	log := opts.Log.Named("discovery").With(
		zap.String("group", opts.Group),
		zap.Int("port", opts.Port))

	conn, err := reuseport.ListenPacket("udp4", net.JoinHostPort("", strconv.Itoa(opts.Port)))
	if err != nil {
		log.Warn("Failed to listen for announcements", zap.Error(err))
		return Result{}, false
	}

	defer conn.Close()

	joinGroup(conn, opts.Group, log)

	// Unblock ReadFrom when the caller gives up.
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, maxDatagramSize)

	for round := 1; round <= opts.Rounds; round++ {
		if ctx.Err() != nil {
			return Result{}, false
		}

		if err := conn.SetReadDeadline(time.Now().Add(opts.RoundTimeout)); err != nil {
			log.Warn("Failed to set read deadline", zap.Error(err))
			return Result{}, false
		}

		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					log.Debug("No announcement yet", zap.Int("round", round))
					break
				}

				if ctx.Err() == nil {
					log.Warn("Failed to read announcement", zap.Error(err))
				}

				return Result{}, false
			}

			if result, ok := ParseAnnouncement(buf[:n]); ok {
				log.Info("Found OOCSI server",
					zap.String("server", result.Addr()),
					zap.Stringer("from", from))

				return result, true
			}

			log.Debug("Ignoring datagram", zap.Stringer("from", from), zap.Int("size", n))
		}
	}

	return Result{}, false
}

// joinGroup joins the multicast group on every interface that supports it.
// Failing to join is not fatal, unicast announcements still arrive.
func joinGroup(conn net.PacketConn, group string, log *zap.Logger) {
	groupAddr := &net.UDPAddr{IP: net.ParseIP(group)}
	pc := ipv4.NewPacketConn(conn)

	ifaces, err := net.Interfaces()
	if err != nil {
		log.Warn("Failed to list interfaces", zap.Error(err))
	}

	joined := 0

	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		if err := pc.JoinGroup(&iface, groupAddr); err != nil {
			log.Debug("Failed to join group", zap.String("interface", iface.Name), zap.Error(err))
			continue
		}

		joined++
	}

	if joined == 0 {
		// Let the kernel pick an interface.
		if err := pc.JoinGroup(nil, groupAddr); err != nil {
			log.Warn("Failed to join multicast group", zap.Error(err))
		}
	}
}
