package sim_test

import (
	"context"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/san-kum/chemdyn/internal/compute"
	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/integrators"
	"github.com/san-kum/chemdyn/internal/models"
	"github.com/san-kum/chemdyn/internal/schedule"
	"github.com/san-kum/chemdyn/internal/sim"
)

var _ = Describe("Session lifecycle", func() {
	var (
		sess  *sim.Session
		batch *dynamo.Batch
		ctx   context.Context
	)

	BeforeEach(func() {
		log := logrus.New()
		log.SetOutput(io.Discard)
		ctx = context.Background()
		sess = sim.NewSession(models.NewToy4(), integrators.BDFFactory(),
			sim.WithLogger(log), sim.WithBackend(compute.NewCPUBackend(2)))
		var err error
		batch, err = dynamo.NewBatch(4, 4, dynamo.LayoutContiguous)
		Expect(err).NotTo(HaveOccurred())
		for i := 0; i < batch.Len(); i++ {
			Expect(batch.Fill(i, []float64{0.4, 0.4, 0.1, 0.1})).To(Succeed())
		}
	})

	AfterEach(func() {
		Expect(sess.Close()).To(Succeed())
	})

	Context("before Init", func() {
		It("refuses to reset", func() {
			Expect(sess.Reset(4)).To(MatchError(dynamo.ErrConfiguration))
		})
	})

	Context("after Init and Reset", func() {
		BeforeEach(func() {
			Expect(sess.Init()).To(Succeed())
			Expect(sess.Reset(batch.Len())).To(Succeed())
		})

		It("advances every system in place", func() {
			Expect(sess.Solve(ctx, batch, schedule.Year)).To(Succeed())
			for i := 0; i < batch.Len(); i++ {
				Expect(batch.State(i).Sum()).To(BeNumerically("~", 1.0, 1e-6))
				Expect(batch.State(i)[0]).To(BeNumerically("<", 0.4))
			}
		})

		It("treats a zero interval as a no-op", func() {
			before := append([]float64(nil), batch.Raw()...)
			Expect(sess.Solve(ctx, batch, 0)).To(Succeed())
			Expect(batch.Raw()).To(Equal(before))
		})

		It("gives identical systems identical results", func() {
			Expect(sess.Solve(ctx, batch, 3*schedule.Year)).To(Succeed())
			for i := 1; i < batch.Len(); i++ {
				Expect(batch.State(i)).To(Equal(batch.State(0)))
			}
		})

		It("can be resized between solves", func() {
			Expect(sess.Solve(ctx, batch, schedule.Year)).To(Succeed())
			small, err := dynamo.NewBatch(1, 4, dynamo.LayoutIndependent)
			Expect(err).NotTo(HaveOccurred())
			Expect(small.Fill(0, []float64{0.4, 0.4, 0.1, 0.1})).To(Succeed())
			Expect(sess.Solve(ctx, small, schedule.Year)).To(MatchError(dynamo.ErrConfiguration))
			Expect(sess.Reset(1)).To(Succeed())
			Expect(sess.Solve(ctx, small, schedule.Year)).To(Succeed())
			Expect(sess.Clock()).To(Equal(2 * schedule.Year))
		})

		When("finalized", func() {
			BeforeEach(func() {
				Expect(sess.Finalize()).To(Succeed())
			})

			It("rejects every further use", func() {
				Expect(sess.Solve(ctx, batch, schedule.Year)).To(MatchError(dynamo.ErrUseAfterFinalize))
				Expect(sess.Reset(2)).To(MatchError(dynamo.ErrUseAfterFinalize))
				Expect(sess.Finalize()).To(MatchError(dynamo.ErrUseAfterFinalize))
			})
		})
	})
})
