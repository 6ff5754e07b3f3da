package transport_test

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/oocsi/client"
	"github.com/luma/oocsi/transport"
)

// rawClient speaks the line protocol directly.
type rawClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(tcp *transport.TCP) *rawClient {
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(tcp.Port())))
	Expect(err).To(Succeed())

	return &rawClient{conn: conn, reader: bufio.NewReader(conn)}
}

func join(tcp *transport.TCP, name string) *rawClient {
	c := dial(tcp)
	c.Send(name + "(JSON)")
	Expect(c.ReadLine()).To(Equal("welcome " + name))

	return c
}

func (c *rawClient) Send(line string) {
	_, err := c.conn.Write([]byte(line + "\n"))
	Expect(err).To(Succeed())
}

func (c *rawClient) ReadLine() string {
	Expect(c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())

	line, err := c.reader.ReadString('\n')
	Expect(err).To(Succeed())

	return strings.TrimRight(line, "\r\n")
}

func (c *rawClient) Close() {
	c.conn.Close()
}

func makeTCPServer() *transport.TCP {
	log, err := zap.NewDevelopment()
	Expect(err).To(Succeed())

	tcp := transport.NewTCP(transport.Options{
		Host:         "127.0.0.1",
		Port:         0,
		Reuseport:    true,
		NumListeners: 2,
		Trace:        true,
		Log:          log,
	})

	Expect(tcp.Start(context.Background())).To(Succeed())

	return tcp
}

func waitForClose(c *rawClient) {
	Expect(c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())

	_, err := c.reader.ReadString('\n')
	Expect(err).To(HaveOccurred())

	netErr, ok := err.(net.Error)
	if ok {
		Expect(netErr.Timeout()).To(BeFalse(), "the server never closed the connection")
	}
}

var _ = Describe("transport", func() {
	var tcp *transport.TCP

	BeforeEach(func() {
		tcp = makeTCPServer()
	})

	AfterEach(func() {
		Expect(tcp.Close()).To(Succeed())
	})

	Describe("TCP", func() {
		It("listens on the port it reports", func() {
			Expect(tcp.Port()).NotTo(BeZero())

			c := dial(tcp)
			c.Close()
		})

		It("welcomes clients and lists them", func() {
			alice := join(tcp, "alice")
			defer alice.Close()

			bob := join(tcp, "bob")
			defer bob.Close()

			Expect(tcp.Clients()).To(Equal([]string{"alice", "bob"}))

			alice.Send("clients")
			Expect(alice.ReadLine()).To(Equal("alice,bob"))
		})

		It("rejects a name that is already taken", func() {
			alice := join(tcp, "alice")
			defer alice.Close()

			impostor := dial(tcp)
			defer impostor.Close()

			impostor.Send("alice(JSON)")
			Expect(impostor.ReadLine()).To(Equal("error (name already exists)"))
			waitForClose(impostor)

			Expect(tcp.Clients()).To(Equal([]string{"alice"}))
		})

		It("forgets clients that quit", func() {
			alice := join(tcp, "alice")
			defer alice.Close()

			alice.Send("subscribe chanA")
			Eventually(tcp.Channels).Should(Equal([]string{"chanA"}))

			alice.Send("quit")
			waitForClose(alice)

			Eventually(tcp.Clients).Should(BeEmpty())
			Eventually(tcp.Channels).Should(BeEmpty())
		})

		It("answers pings", func() {
			alice := join(tcp, "alice")
			defer alice.Close()

			alice.Send("ping")
			Expect(alice.ReadLine()).To(Equal("."))
		})

		Describe("sendraw", func() {
			It("delivers JSON objects to subscribers", func() {
				alice := join(tcp, "alice")
				defer alice.Close()

				bob := join(tcp, "bob")
				defer bob.Close()

				bob.Send("subscribe chanA")
				Eventually(tcp.Channels).Should(ContainElement("chanA"))

				alice.Send(`sendraw chanA {"color":"red","level":3}`)

				frame := bob.ReadLine()
				Expect(gjson.Get(frame, "recipient").String()).To(Equal("chanA"))
				Expect(gjson.Get(frame, "sender").String()).To(Equal("alice"))
				Expect(gjson.Get(frame, "timestamp").Int()).To(BeNumerically(">", 0))
				Expect(gjson.Get(frame, "color").String()).To(Equal("red"))
				Expect(gjson.Get(frame, "level").Int()).To(Equal(int64(3)))
			})

			It("wraps anything else as data", func() {
				alice := join(tcp, "alice")
				defer alice.Close()

				bob := join(tcp, "bob")
				defer bob.Close()

				bob.Send("subscribe chanA")
				Eventually(tcp.Channels).Should(ContainElement("chanA"))

				alice.Send("sendraw chanA hello world")

				frame := bob.ReadLine()
				Expect(gjson.Get(frame, "data").String()).To(Equal("hello world"))
			})

			It("delivers to the client named by the channel", func() {
				alice := join(tcp, "alice")
				defer alice.Close()

				bob := join(tcp, "bob")
				defer bob.Close()

				alice.Send(`sendraw bob {"note":"direct"}`)

				frame := bob.ReadLine()
				Expect(gjson.Get(frame, "recipient").String()).To(Equal("bob"))
				Expect(gjson.Get(frame, "note").String()).To(Equal("direct"))
			})

			It("stops delivering after unsubscribe", func() {
				bob := join(tcp, "bob")
				defer bob.Close()

				bob.Send("subscribe chanA")
				Eventually(tcp.Channels).Should(ContainElement("chanA"))

				bob.Send("unsubscribe chanA")
				Eventually(tcp.Channels).Should(BeEmpty())

				delivered, err := tcp.Publish("chanA", "server", map[string]interface{}{"a": 1})
				Expect(err).To(Succeed())
				Expect(delivered).To(BeZero())
			})
		})
	})

	Describe("with the client", func() {
		newClient := func(name string) *client.Client {
			c, err := client.New(client.Options{
				Name:          name,
				AttemptBudget: 3,
				RetryDelay:    50 * time.Millisecond,
			})
			Expect(err).To(Succeed())

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			Expect(c.Connect(ctx, "127.0.0.1", tcp.Port())).To(BeTrue())
			return c
		}

		It("round trips data between clients", func() {
			sender := newClient("sender")
			defer sender.Disconnect()

			receiver := newClient("receiver")
			defer receiver.Disconnect()

			var (
				mu     sync.Mutex
				events []*client.Event
			)

			Expect(receiver.Subscribe("chanA", client.HandlerFunc(func(event *client.Event) error {
				mu.Lock()
				defer mu.Unlock()

				events = append(events, event)
				return nil
			}))).To(Succeed())

			Eventually(tcp.Channels).Should(ContainElement("chanA"))

			Expect(sender.SendData("chanA", map[string]interface{}{"msg": "hello"})).To(Succeed())

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()

				return len(events)
			}).Should(Equal(1))

			mu.Lock()
			defer mu.Unlock()

			Expect(events[0].Sender).To(Equal("sender"))
			Expect(events[0].Channel).To(Equal("chanA"))
			Expect(events[0].Data).To(Equal(map[string]interface{}{"msg": "hello"}))
		})

		It("answers client listings", func() {
			c := newClient("lister")
			defer c.Disconnect()

			reply, ok := c.ListClients(time.Second)
			Expect(ok).To(BeTrue())
			Expect(reply).To(Equal("lister"))
		})
	})
})
