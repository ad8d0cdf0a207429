package client

import (
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"tvfeed/command"
	"tvfeed/models"
)

var _ = Describe("Client lifecycle", func() {
	var (
		c *Client
		h *wsHarness
	)

	BeforeEach(func() {
		h = newWSHarness(GinkgoTB())
		tr := h.dial(GinkgoTB())
		c = NewWithTransport(tr, Config{Logger: zerolog.Nop()})
		h.waitFrame(GinkgoTB(), "set_auth_token")
	})

	AfterEach(func() {
		Expect(c.Close()).To(Succeed())
	})

	Describe("session allocation", func() {
		It("mints ids with the documented prefixes", func() {
			shape := regexp.MustCompile(`^(cs|qs|rs)_[A-Za-z0-9]{12}$`)

			cs, err := c.Manager().NewChartSession()
			Expect(err).NotTo(HaveOccurred())
			Expect(cs).To(MatchRegexp(shape.String()))

			qs, err := c.CreateQuoteSession()
			Expect(err).NotTo(HaveOccurred())
			Expect(qs).To(MatchRegexp(shape.String()))

			rs, err := c.Manager().NewReplaySession()
			Expect(err).NotTo(HaveOccurred())
			Expect(rs).To(MatchRegexp(shape.String()))
		})

		It("keeps the series and study counters monotone across markets", func() {
			_, s1, err := c.SetMarket(models.NewChartOptions("VCB", "HOSE", models.Interval1Day))
			Expect(err).NotTo(HaveOccurred())
			Expect(s1).To(Equal("sds_1"))
			Expect(c.Manager().SeriesCount()).To(BeEquivalentTo(1))

			_, s2, err := c.SetMarket(models.NewChartOptions("FPT", "HOSE", models.Interval1Day))
			Expect(err).NotTo(HaveOccurred())
			Expect(s2).To(Equal("sds_2"))
			Expect(c.Manager().SeriesCount()).To(BeEquivalentTo(2))
		})
	})

	Describe("set_market ordering", func() {
		It("resolves the symbol before creating the series", func() {
			_, _, err := c.SetMarket(models.NewChartOptions("VCB", "HOSE", models.Interval1Day))
			Expect(err).NotTo(HaveOccurred())
			h.waitFrame(GinkgoTB(), "create_series")

			frames := h.frames()
			order := func(substr string) int {
				for i, f := range frames {
					if strings.Contains(f, substr) {
						return i
					}
				}
				return -1
			}
			Expect(order("chart_create_session")).To(BeNumerically(">=", 0))
			Expect(order("resolve_symbol")).To(BeNumerically(">", order("chart_create_session")))
			Expect(order("create_series")).To(BeNumerically(">", order("resolve_symbol")))
		})

		It("sets up the replay session before resolving under it", func() {
			opts := models.NewChartOptions("VCB", "HOSE", models.Interval1Day)
			opts.ReplayMode = true
			opts.ReplayFrom = 1600000000

			_, _, err := c.SetMarket(opts)
			Expect(err).NotTo(HaveOccurred())
			h.waitFrame(GinkgoTB(), "create_series")

			frames := h.frames()
			order := func(substr string) int {
				for i, f := range frames {
					if strings.Contains(f, substr) {
						return i
					}
				}
				return -1
			}
			Expect(order("replay_create_session")).To(BeNumerically(">", 0))
			Expect(order("replay_add_series")).To(BeNumerically(">", order("replay_create_session")))
			Expect(order("replay_reset")).To(BeNumerically(">", order("replay_add_series")))
			Expect(order("resolve_symbol")).To(BeNumerically(">", order("replay_reset")))
			Expect(order("create_series")).To(BeNumerically(">", order("resolve_symbol")))
		})
	})

	Describe("command-plane teardown", func() {
		It("clears metadata and closes the client on Delete", func() {
			_, _, err := c.SetMarket(models.NewChartOptions("VCB", "HOSE", models.Interval1Day))
			Expect(err).NotTo(HaveOccurred())

			c.Enqueue(command.Command{Kind: command.KindDelete})

			Eventually(c.IsClosed, 3*time.Second).Should(BeTrue())
			Expect(c.Manager().SeriesCount()).To(BeZero())
			Expect(c.Manager().StudiesCount()).To(BeZero())
		})
	})
})
