package client_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/oocsi/client"
)

var _ = Describe("Registry", func() {
	var registry *client.Registry

	BeforeEach(func() {
		registry = client.NewRegistry()
	})

	It("reports whether a channel was new", func() {
		Expect(registry.Register("chanA", &recorder{})).To(BeTrue())
		Expect(registry.Register("chanA", &recorder{})).To(BeFalse())
		Expect(registry.Register("chanB", &recorder{})).To(BeTrue())
	})

	It("lists channels in first registration order without SELF", func() {
		registry.Register("chanB", &recorder{})
		registry.RegisterSelf(&recorder{})
		registry.Register("chanA", &recorder{})
		registry.Register("chanB", &recorder{})

		Expect(registry.Channels()).To(Equal([]string{"chanB", "chanA"}))
	})

	It("invokes the handlers of a channel in order", func() {
		var calls []string

		registry.Register("chanA", client.HandlerFunc(func(*client.Event) error {
			calls = append(calls, "first")
			return nil
		}))
		registry.Register("chanA", client.HandlerFunc(func(*client.Event) error {
			calls = append(calls, "second")
			return nil
		}))

		handler, ok := registry.Get("chanA")
		Expect(ok).To(BeTrue())
		Expect(handler.Receive(&client.Event{Channel: "chanA"})).To(Succeed())
		Expect(calls).To(Equal([]string{"first", "second"}))
	})

	It("runs every handler even when one panics", func() {
		later := &recorder{}

		registry.Register("chanA", client.HandlerFunc(func(*client.Event) error {
			panic("boom")
		}))
		registry.Register("chanA", later)

		handler, _ := registry.Get("chanA")
		err := handler.Receive(&client.Event{Channel: "chanA"})

		Expect(errors.Is(err, client.ErrHandlerPanic)).To(BeTrue())
		Expect(later.Events()).To(HaveLen(1))
	})

	Describe("Resolve()", func() {
		It("routes the client's own name to SELF", func() {
			self := &recorder{}
			registry.RegisterSelf(self)

			handler, ok := registry.Resolve("me", "me")
			Expect(ok).To(BeTrue())
			Expect(handler.Receive(&client.Event{})).To(Succeed())
			Expect(self.Events()).To(HaveLen(1))
		})

		It("prefers a handler registered on the literal name", func() {
			self := &recorder{}
			literal := &recorder{}
			registry.RegisterSelf(self)
			registry.Register("me", literal)

			handler, ok := registry.Resolve("me", "me")
			Expect(ok).To(BeTrue())
			Expect(handler.Receive(&client.Event{})).To(Succeed())
			Expect(literal.Events()).To(HaveLen(1))
			Expect(self.Events()).To(BeEmpty())
		})

		It("finds nothing for unknown channels", func() {
			_, ok := registry.Resolve("nobody", "me")
			Expect(ok).To(BeFalse())
		})
	})

	It("does not support unregistering yet", func() {
		Expect(registry.Unregister("chanA")).To(MatchError(client.ErrNotImplemented))
	})
})

var _ = Describe("MultiHandler", func() {
	It("combines the errors of every handler", func() {
		errA := errors.New("a")
		errB := errors.New("b")

		multi := client.NewMultiHandler(
			client.HandlerFunc(func(*client.Event) error { return errA }),
			client.HandlerFunc(func(*client.Event) error { return errB }),
		)
		Expect(multi.Len()).To(Equal(2))

		err := multi.Receive(&client.Event{Channel: "chanA"})
		Expect(errors.Is(err, errA)).To(BeTrue())
		Expect(errors.Is(err, errB)).To(BeTrue())
	})
})
