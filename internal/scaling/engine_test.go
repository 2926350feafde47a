package scaling

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	hibernationv1 "github.com/migalsp/kubex-hibernate/api/v1"
	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

var _ = Describe("Engine", func() {
	var (
		ctx context.Context
		env *testEnv
	)

	nightly := func(ns, name string) schedule.CreateRequest {
		return schedule.CreateRequest{Namespace: ns, DeploymentName: name, ScaleDownTime: "20:00", ScaleUpTime: "08:00"}
	}

	get := func(id string) *schedule.Schedule {
		s, err := env.store.Get(ctx, id)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return s
	}

	resourceVersion := func(id string) string {
		obj := &hibernationv1.HibernationSchedule{}
		ExpectWithOffset(1, env.client.Get(ctx, client.ObjectKey{Namespace: "kubex-system", Name: id}, obj)).To(Succeed())
		return obj.ResourceVersion
	}

	BeforeEach(func() {
		ctx = context.Background()
		env = newTestEnv(time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC),
			optedIn("team-a"),
			deployment("team-a", "api", 3),
			deployment("team-a", "worker", 2),
			deployment("team-b", "api", 1),
		)
	})

	Context("When ticking through a night", func() {
		It("should scale down on the boundary and restore on the next morning", func() {
			created, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())
			Expect(created.State()).To(Equal(schedule.Awake))
			Expect(created.OriginalReplicas).To(HaveValue(Equal(int32(3))))

			env.setTime(0, 19, 59)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(3)))

			env.setTime(0, 20, 0)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(0)))
			s := get(created.ID)
			Expect(s.State()).To(Equal(schedule.Hibernating))
			Expect(s.OriginalReplicas).To(HaveValue(Equal(int32(3))))
			Expect(s.LastScaledAt).NotTo(BeNil())
			Expect(env.recorder.Events).To(Receive(ContainSubstring("Hibernated")))

			By("ticking again inside the window without writing")
			rv := resourceVersion(created.ID)
			env.setTime(0, 20, 1)
			env.engine.Tick(ctx)
			env.setTime(1, 3, 0)
			env.engine.Tick(ctx)
			Expect(resourceVersion(created.ID)).To(Equal(rv))

			env.setTime(1, 8, 0)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(3)))
			Expect(get(created.ID).State()).To(Equal(schedule.Awake))
			Expect(env.recorder.Events).To(Receive(ContainSubstring("WokeUp")))

			rv = resourceVersion(created.ID)
			env.setTime(1, 8, 1)
			env.engine.Tick(ctx)
			Expect(resourceVersion(created.ID)).To(Equal(rv))
		})

		It("should capture the freshest non-zero replica count", func() {
			created, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())

			env.scaleTo("team-a", "api", 5)
			env.setTime(0, 20, 0)
			env.engine.Tick(ctx)
			Expect(get(created.ID).OriginalReplicas).To(HaveValue(Equal(int32(5))))

			env.setTime(1, 8, 0)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(5)))

			By("parking the deployment by hand during the day")
			env.scaleTo("team-a", "api", 0)
			env.setTime(1, 20, 0)
			env.engine.Tick(ctx)
			Expect(get(created.ID).OriginalReplicas).To(HaveValue(Equal(int32(5))))

			env.setTime(2, 8, 0)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(5)))
		})

		It("should catch up a boundary missed while the scheduler was down", func() {
			created, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())

			env.setTime(0, 20, 5)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(0)))

			env.setTime(1, 9, 30)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(3)))
			Expect(get(created.ID).State()).To(Equal(schedule.Awake))
		})

		It("should keep going when one deployment fails and retry it next minute", func() {
			api, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())
			worker, err := env.engine.CreateSchedule(ctx, nightly("team-a", "worker"))
			Expect(err).NotTo(HaveOccurred())

			env.scaler.setBroken("team-a/worker", true)
			env.setTime(0, 20, 0)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(0)))
			Expect(env.replicas("team-a", "worker")).To(Equal(int32(2)))
			Expect(get(api.ID).IsScaledDown).To(BeTrue())
			Expect(get(worker.ID).IsScaledDown).To(BeFalse())

			env.scaler.setBroken("team-a/worker", false)
			env.setTime(0, 20, 1)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "worker")).To(Equal(int32(0)))
			Expect(get(worker.ID).OriginalReplicas).To(HaveValue(Equal(int32(2))))
		})

		It("should skip disabled schedules", func() {
			created, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())
			_, err = env.engine.UpdateSchedule(ctx, created.ID, schedule.Patch{Enabled: ptr.To(false)})
			Expect(err).NotTo(HaveOccurred())

			env.setTime(0, 20, 0)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(3)))
		})

		It("should publish the number of schedules per state", func() {
			for _, name := range []string{"api", "worker"} {
				_, err := env.engine.CreateSchedule(ctx, nightly("team-a", name))
				Expect(err).NotTo(HaveOccurred())
			}
			disabled, err := env.store.GetByNamespaceDeployment(ctx, "team-a", "worker")
			Expect(err).NotTo(HaveOccurred())
			_, err = env.engine.UpdateSchedule(ctx, disabled.ID, schedule.Patch{Enabled: ptr.To(false)})
			Expect(err).NotTo(HaveOccurred())

			env.setTime(0, 20, 0)
			env.engine.Tick(ctx)
			env.setTime(0, 20, 1)
			env.engine.Tick(ctx)

			Expect(testutil.ToFloat64(schedulesByState.WithLabelValues("Hibernating"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(schedulesByState.WithLabelValues("Awake"))).To(Equal(0.0))
			Expect(testutil.ToFloat64(schedulesByState.WithLabelValues("Disabled"))).To(Equal(1.0))
		})
	})

	Context("When creating a schedule", func() {
		It("should hibernate right away inside the window", func() {
			env.setTime(0, 21, 0)
			created, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())
			Expect(created.State()).To(Equal(schedule.Hibernating))
			Expect(created.OriginalReplicas).To(HaveValue(Equal(int32(3))))
			Expect(env.replicas("team-a", "api")).To(Equal(int32(0)))

			env.setTime(1, 8, 0)
			env.engine.Tick(ctx)
			Expect(env.replicas("team-a", "api")).To(Equal(int32(3)))
		})

		It("should reject invalid requests", func() {
			_, err := env.engine.CreateSchedule(ctx, nightly("team-b", "api"))
			Expect(schedule.ReasonOf(err)).To(Equal(schedule.ReasonNamespaceNotAllowed))

			_, err = env.engine.CreateSchedule(ctx, nightly("team-a", "missing"))
			Expect(schedule.IsNotFound(err)).To(BeTrue())

			req := nightly("team-a", "api")
			req.ScaleUpTime = "24:00"
			_, err = env.engine.CreateSchedule(ctx, req)
			Expect(schedule.ReasonOf(err)).To(Equal(schedule.ReasonInvalidTime))

			req.ScaleUpTime = "20:00"
			_, err = env.engine.CreateSchedule(ctx, req)
			Expect(schedule.ReasonOf(err)).To(Equal(schedule.ReasonEmptyWindow))

			_, err = env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())
			_, err = env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(schedule.ReasonOf(err)).To(Equal(schedule.ReasonDuplicate))

			all, err := env.engine.ListSchedules(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})
	})

	Context("When editing a schedule", func() {
		var id string

		BeforeEach(func() {
			env.setTime(0, 21, 0)
			created, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())
			Expect(created.IsScaledDown).To(BeTrue())
			id = created.ID
		})

		It("should restore the deployment when disabled and park it again when enabled", func() {
			updated, err := env.engine.UpdateSchedule(ctx, id, schedule.Patch{Enabled: ptr.To(false)})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.State()).To(Equal(schedule.Disabled))
			Expect(updated.IsScaledDown).To(BeFalse())
			Expect(env.replicas("team-a", "api")).To(Equal(int32(3)))

			updated, err = env.engine.UpdateSchedule(ctx, id, schedule.Patch{Enabled: ptr.To(true)})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.State()).To(Equal(schedule.Hibernating))
			Expect(env.replicas("team-a", "api")).To(Equal(int32(0)))
		})

		It("should hibernate when the window moves over now", func() {
			_, err := env.engine.UpdateSchedule(ctx, id, schedule.Patch{Enabled: ptr.To(false)})
			Expect(err).NotTo(HaveOccurred())

			env.setTime(1, 12, 0)
			_, err = env.engine.UpdateSchedule(ctx, id, schedule.Patch{Enabled: ptr.To(true)})
			Expect(err).NotTo(HaveOccurred())
			Expect(env.replicas("team-a", "api")).To(Equal(int32(3)))

			down, up := schedule.MustParseTimeOfDay("11:00"), schedule.MustParseTimeOfDay("13:00")
			updated, err := env.engine.UpdateSchedule(ctx, id, schedule.Patch{ScaleDownTime: &down, ScaleUpTime: &up})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.State()).To(Equal(schedule.Hibernating))
			Expect(env.replicas("team-a", "api")).To(Equal(int32(0)))
		})

		It("should reject an empty window without touching the record", func() {
			up := schedule.MustParseTimeOfDay("20:00")
			_, err := env.engine.UpdateSchedule(ctx, id, schedule.Patch{ScaleUpTime: &up})
			Expect(schedule.ReasonOf(err)).To(Equal(schedule.ReasonEmptyWindow))
			Expect(get(id).ScaleUpTime.String()).To(Equal("08:00"))
		})

		It("should restore a single replica when no count was captured", func() {
			_, err := env.store.Update(ctx, id, func(s *schedule.Schedule) error {
				s.OriginalReplicas = nil
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = env.engine.UpdateSchedule(ctx, id, schedule.Patch{Enabled: ptr.To(false)})
			Expect(err).NotTo(HaveOccurred())
			Expect(env.replicas("team-a", "api")).To(Equal(int32(1)))
		})

		It("should return not found for an unknown id", func() {
			_, err := env.engine.UpdateSchedule(ctx, "missing", schedule.Patch{Enabled: ptr.To(false)})
			Expect(schedule.IsNotFound(err)).To(BeTrue())
		})
	})

	Context("When deleting a schedule", func() {
		It("should restore a parked deployment first", func() {
			env.setTime(0, 21, 0)
			created, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())
			Expect(env.replicas("team-a", "api")).To(Equal(int32(0)))

			Expect(env.engine.DeleteSchedule(ctx, created.ID)).To(Succeed())
			Expect(env.replicas("team-a", "api")).To(Equal(int32(3)))

			_, err = env.engine.GetSchedule(ctx, created.ID)
			Expect(schedule.IsNotFound(err)).To(BeTrue())
		})

		It("should delete the record even when the restore fails", func() {
			env.setTime(0, 21, 0)
			created, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())

			env.scaler.setBroken("team-a/api", true)
			Expect(env.engine.DeleteSchedule(ctx, created.ID)).To(Succeed())
			_, err = env.engine.GetSchedule(ctx, created.ID)
			Expect(schedule.IsNotFound(err)).To(BeTrue())
		})

		It("should return not found for an unknown id", func() {
			Expect(schedule.IsNotFound(env.engine.DeleteSchedule(ctx, "missing"))).To(BeTrue())
		})
	})

	Context("When running the tick loop", func() {
		It("should tick at the top of the minute and stop on request", func() {
			_, err := env.engine.CreateSchedule(ctx, nightly("team-a", "api"))
			Expect(err).NotTo(HaveOccurred())
			env.clock.SetTime(time.Date(2026, 3, 2, 19, 59, 30, 0, time.UTC))

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- env.engine.Start(ctx)
			}()
			Eventually(env.clock.HasWaiters).Should(BeTrue())
			Expect(env.engine.Start(ctx)).To(MatchError(ContainSubstring("already started")))

			env.clock.Step(30 * time.Second)
			Eventually(func() int32 { return env.replicas("team-a", "api") }).Should(Equal(int32(0)))

			env.engine.Stop()
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
