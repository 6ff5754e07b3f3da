package client_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/oocsi/client"
)

var _ = Describe("Event", func() {
	It("looks up payload values", func() {
		event := &client.Event{Data: map[string]interface{}{"a": "b"}}

		value, ok := event.Get("a")
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("b"))

		_, ok = event.Get("missing")
		Expect(ok).To(BeFalse())
	})

	It("reads timestamps as milliseconds", func() {
		event := &client.Event{Timestamp: 1500}
		Expect(event.Time()).To(Equal(time.Unix(1, 500*int64(time.Millisecond))))
	})
})

var _ = Describe("State", func() {
	It("has readable names", func() {
		Expect(client.Active.String()).To(Equal("active"))
		Expect(client.State(42).String()).To(Equal("unknown(42)"))
	})
})
