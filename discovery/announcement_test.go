package discovery_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/oocsi/discovery"
)

var _ = Describe("Announcements", func() {
	Describe("ParseAnnouncement()", func() {
		It("extracts host and port", func() {
			result, ok := discovery.ParseAnnouncement([]byte("OOCSI@192.168.1.10:4444"))
			Expect(ok).To(BeTrue())
			Expect(result).To(Equal(discovery.Result{Host: "192.168.1.10", Port: 4444}))
			Expect(result.Addr()).To(Equal("192.168.1.10:4444"))
		})

		It("ignores a description in parentheses", func() {
			result, ok := discovery.ParseAnnouncement([]byte("OOCSI@10.0.0.2:4445 (lab server)"))
			Expect(ok).To(BeTrue())
			Expect(result).To(Equal(discovery.Result{Host: "10.0.0.2", Port: 4445}))
		})

		It("tolerates trailing padding", func() {
			result, ok := discovery.ParseAnnouncement([]byte("OOCSI@host:4444\x00\x00\n"))
			Expect(ok).To(BeTrue())
			Expect(result.Host).To(Equal("host"))
		})

		It("rejects payloads without the marker", func() {
			_, ok := discovery.ParseAnnouncement([]byte("HELLO@host:4444"))
			Expect(ok).To(BeFalse())
		})

		It("rejects payloads without exactly one colon", func() {
			_, ok := discovery.ParseAnnouncement([]byte("OOCSI@host"))
			Expect(ok).To(BeFalse())

			_, ok = discovery.ParseAnnouncement([]byte("OOCSI@::1:4444"))
			Expect(ok).To(BeFalse())
		})

		It("rejects bad ports", func() {
			_, ok := discovery.ParseAnnouncement([]byte("OOCSI@host:port"))
			Expect(ok).To(BeFalse())

			_, ok = discovery.ParseAnnouncement([]byte("OOCSI@host:70000"))
			Expect(ok).To(BeFalse())

			_, ok = discovery.ParseAnnouncement([]byte("OOCSI@host:"))
			Expect(ok).To(BeFalse())
		})
	})

	It("formats what it parses", func() {
		result, ok := discovery.ParseAnnouncement(discovery.FormatAnnouncement("127.0.0.1", 4444))
		Expect(ok).To(BeTrue())
		Expect(result).To(Equal(discovery.Result{Host: "127.0.0.1", Port: 4444}))
	})
})
