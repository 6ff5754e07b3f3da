package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/oocsi/protocol"
)

var _ = Describe("Parsing", func() {
	Describe("Decode()", func() {
		It("returns an error for blank lines", func() {
			_, err := protocol.Decode("   ")
			Expect(err).To(MatchError(protocol.ErrEmptyLine))
		})

		Describe("JSON event frames", func() {
			It("lifts the reserved keys out of the payload", func() {
				frame, err := protocol.Decode(`{"recipient":"chanA","sender":"srv","timestamp":123,"msg":"hello"}`)
				Expect(err).To(Succeed())

				event, ok := frame.(*protocol.EventFrame)
				Expect(ok).To(BeTrue())

				Expect(event.Recipient).To(Equal("chanA"))
				Expect(event.Sender).To(Equal("srv"))
				Expect(event.Timestamp).To(Equal(int64(123)))
				Expect(event.Data).To(Equal(map[string]interface{}{"msg": "hello"}))
			})

			It("defaults missing reserved keys", func() {
				frame, err := protocol.Decode(`{"msg":"hello"}`)
				Expect(err).To(Succeed())

				event := frame.(*protocol.EventFrame)
				Expect(event.Recipient).To(Equal(""))
				Expect(event.Sender).To(Equal(""))
				Expect(event.Timestamp).To(Equal(int64(0)))
			})

			It("keeps loosely typed values", func() {
				frame, err := protocol.Decode(`{"recipient":"c","n":1.5,"b":true,"list":[1,"two"],"obj":{"k":"v"}}`)
				Expect(err).To(Succeed())

				data := frame.(*protocol.EventFrame).Data
				Expect(data["n"]).To(Equal(1.5))
				Expect(data["b"]).To(Equal(true))
				Expect(data["list"]).To(Equal([]interface{}{float64(1), "two"}))
				Expect(data["obj"]).To(Equal(map[string]interface{}{"k": "v"}))
			})

			It("returns an error for malformed JSON", func() {
				_, err := protocol.Decode(`{"recipient":"chanA",`)
				Expect(errors.Is(err, protocol.ErrMalformedFrame)).To(BeTrue())
			})
		})

		Describe("keep-alive traffic", func() {
			It("treats ping as a probe", func() {
				frame, err := protocol.Decode("ping")
				Expect(err).To(Succeed())
				Expect(frame).To(Equal(protocol.KeepAlive{Probe: true}))
			})

			It("treats a bare dot as an acknowledgement", func() {
				frame, err := protocol.Decode(".")
				Expect(err).To(Succeed())
				Expect(frame).To(Equal(protocol.KeepAlive{}))
			})
		})

		Describe("legacy frames", func() {
			It("parses a positional frame", func() {
				frame, err := protocol.Decode("send chanA {\"a\":1} 42 srv")
				Expect(err).To(Succeed())

				legacy, ok := frame.(*protocol.LegacyFrame)
				Expect(ok).To(BeTrue())
				Expect(legacy).To(Equal(&protocol.LegacyFrame{
					Tag:       "send",
					Channel:   "chanA",
					Data:      `{"a":1}`,
					Timestamp: 42,
					Sender:    "srv",
				}))
			})

			It("uses a zero timestamp when it cannot be parsed", func() {
				frame, err := protocol.Decode("send chanA data soon srv")
				Expect(err).To(Succeed())
				Expect(frame.(*protocol.LegacyFrame).Timestamp).To(Equal(int64(0)))
			})

			It("returns an error for a command echo with the wrong number of tokens", func() {
				_, err := protocol.Decode("sendraw chanA hello")
				Expect(errors.Is(err, protocol.ErrMalformedFrame)).To(BeTrue())
			})
		})

		Describe("reply lines", func() {
			It("returns anything else verbatim", func() {
				frame, err := protocol.Decode("alice, bob, carol")
				Expect(err).To(Succeed())
				Expect(frame).To(Equal(&protocol.ReplyLine{Line: "alice, bob, carol"}))
			})

			It("can be read positionally when it has five tokens", func() {
				reply := &protocol.ReplyLine{Line: "event chanA raw 7 srv"}

				legacy, ok := reply.Legacy()
				Expect(ok).To(BeTrue())
				Expect(legacy.Channel).To(Equal("chanA"))
				Expect(legacy.Data).To(Equal("raw"))
				Expect(legacy.Timestamp).To(Equal(int64(7)))
				Expect(legacy.Sender).To(Equal("srv"))

				_, ok = (&protocol.ReplyLine{Line: "just three tokens"}).Legacy()
				Expect(ok).To(BeFalse())
			})
		})
	})

	Describe("ParsePayload()", func() {
		It("decodes JSON objects", func() {
			data, ok := protocol.ParsePayload(`{"a":"b"}`)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(map[string]interface{}{"a": "b"}))
		})

		It("rejects anything that is not an object", func() {
			_, ok := protocol.ParsePayload(`hello`)
			Expect(ok).To(BeFalse())

			_, ok = protocol.ParsePayload(`[1,2]`)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("RemoveTrailingCR()", func() {
		It("does nothing if the data does not end in CR", func() {
			data := []byte("I am awesome data")
			Expect(protocol.RemoveTrailingCR(data)).To(Equal(data))
		})

		It("removes the trailling CR", func() {
			input := []byte("I am awesome data\r")
			output := []byte("I am awesome data")
			Expect(protocol.RemoveTrailingCR(input)).To(Equal(output))
		})

		It("copes with empty input", func() {
			Expect(protocol.RemoveTrailingCR([]byte{})).To(BeEmpty())
		})
	})
})
