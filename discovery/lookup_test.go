package discovery_test

import (
	"context"
	"net"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/oocsi/discovery"
)

// freeUDPPort finds a port nothing is listening on right now.
func freeUDPPort() int {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	Expect(err).To(Succeed())
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func lookupAsync(ctx context.Context, opts discovery.Options) chan discovery.Result {
	found := make(chan discovery.Result, 1)

	go func() {
		defer GinkgoRecover()

		result, ok := discovery.Lookup(ctx, opts)
		if ok {
			found <- result
		}

		close(found)
	}()

	return found
}

var _ = Describe("Lookup()", func() {
	var port int

	BeforeEach(func() {
		port = freeUDPPort()
	})

	It("finds a server announced directly to it", func() {
		found := lookupAsync(context.Background(), discovery.Options{
			Port:         port,
			Rounds:       5,
			RoundTimeout: 200 * time.Millisecond,
		})

		announcer, err := discovery.NewAnnouncer(discovery.AnnouncerOptions{
			Host:     "127.0.0.1",
			Port:     4567,
			Target:   net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
			Interval: 50 * time.Millisecond,
		})
		Expect(err).To(Succeed())

		announcer.Start(context.Background())
		defer func() {
			Expect(announcer.Close()).To(Succeed())
		}()

		var result discovery.Result
		Eventually(found, 2*time.Second).Should(Receive(&result))
		Expect(result).To(Equal(discovery.Result{Host: "127.0.0.1", Port: 4567}))
	})

	It("skips datagrams that are not announcements", func() {
		found := lookupAsync(context.Background(), discovery.Options{
			Port:         port,
			Rounds:       5,
			RoundTimeout: 200 * time.Millisecond,
		})

		conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		Expect(err).To(Succeed())
		defer conn.Close()

		// Keep sending until the lookup is listening.
		Eventually(func() bool {
			_, _ = conn.Write([]byte("garbage"))
			_, _ = conn.Write([]byte("OOCSI@example.org:4444"))

			select {
			case result, ok := <-found:
				return ok && result.Host == "example.org"
			default:
				return false
			}
		}, 2*time.Second, 50*time.Millisecond).Should(BeTrue())
	})

	It("gives up after its rounds are spent", func() {
		start := time.Now()

		_, ok := discovery.Lookup(context.Background(), discovery.Options{
			Port:         port,
			Rounds:       2,
			RoundTimeout: 100 * time.Millisecond,
		})

		Expect(ok).To(BeFalse())
		Expect(time.Since(start)).To(BeNumerically(">=", 190*time.Millisecond))
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		found := lookupAsync(ctx, discovery.Options{
			Port:         port,
			Rounds:       50,
			RoundTimeout: 1 * time.Second,
		})

		cancel()
		Eventually(found, 2*time.Second).Should(BeClosed())
	})
})
