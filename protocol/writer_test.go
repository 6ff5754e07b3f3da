package protocol_test

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/oocsi/protocol"
)

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.writes++
	return c.Buffer.Write(p)
}

var _ = Describe("Parsing/ Writer", func() {
	Describe("WriteLine", func() {
		It("ends in a single \n", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteLine(w, "hello")).To(Succeed())
			Expect(w.String()).To(Equal("hello\n"))
		})

		It("writes the whole line in one call", func() {
			w := &countingWriter{}

			Expect(protocol.WriteLine(w, "sendraw chanA hello")).To(Succeed())
			Expect(w.writes).To(Equal(1))
		})
	})

	Describe("WriteCommand", func() {
		It("writes bare commands", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteCommand(w, protocol.PING)).To(Succeed())
			Expect(w.String()).To(Equal("ping\n"))
		})

		It("space separates arguments", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteSendRaw(w, "chanA", "hello world")).To(Succeed())
			Expect(w.String()).To(Equal("sendraw chanA hello world\n"))
		})

		It("writes subscriptions", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteSubscribe(w, "chanA")).To(Succeed())
			Expect(w.String()).To(Equal("subscribe chanA\n"))
		})

		It("writes acknowledgements", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteAck(w)).To(Succeed())
			Expect(w.String()).To(Equal(".\n"))
		})
	})

	Describe("WriteHandshake", func() {
		It("appends the JSON marker to the name", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteHandshake(w, "alice")).To(Succeed())
			Expect(w.String()).To(Equal("alice(JSON)\n"))
		})
	})

	Describe("EncodePayload", func() {
		It("writes keys in sorted order", func() {
			out, err := protocol.EncodePayload(map[string]interface{}{
				"b": 2,
				"a": "one",
				"c": true,
			})
			Expect(err).To(Succeed())
			Expect(string(out)).To(Equal(`{"a":"one","b":2,"c":true}`))
		})

		It("treats dotted and numeric keys as plain keys", func() {
			out, err := protocol.EncodePayload(map[string]interface{}{
				"a.b": 1,
				"7":   "seven",
			})
			Expect(err).To(Succeed())

			data, ok := protocol.ParsePayload(string(out))
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(map[string]interface{}{
				"a.b": float64(1),
				"7":   "seven",
			}))
		})

		It("rejects empty keys", func() {
			_, err := protocol.EncodePayload(map[string]interface{}{"": 1})
			Expect(err).To(MatchError(protocol.ErrEmptyPayloadKey))
		})
	})

	Describe("WriteEvent", func() {
		It("writes an event frame that decodes back to the same event", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteEvent(w, "chanA", "srv", 123, map[string]interface{}{"msg": "hello"})).To(Succeed())
			Expect(w.String()).To(HaveSuffix("\n"))

			frame, err := protocol.Decode(string(protocol.RemoveTrailingCR(bytes.TrimSuffix(w.Bytes(), []byte("\n")))))
			Expect(err).To(Succeed())
			Expect(frame).To(Equal(&protocol.EventFrame{
				Recipient: "chanA",
				Sender:    "srv",
				Timestamp: 123,
				Data:      map[string]interface{}{"msg": "hello"},
			}))
		})

		It("does not let the payload override reserved keys", func() {
			out, err := protocol.EncodeEvent("chanA", "srv", 1, map[string]interface{}{"sender": "mallory"})
			Expect(err).To(Succeed())

			frame, err := protocol.ParseEvent(out)
			Expect(err).To(Succeed())
			Expect(frame.Sender).To(Equal("srv"))
		})
	})
})
