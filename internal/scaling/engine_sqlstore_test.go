package scaling

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/utils/ptr"

	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

var _ = Describe("Engine on a SQL store", func() {
	var (
		ctx context.Context
		env *testEnv
		ids map[string]string
	)

	state := func(name string) schedule.State {
		s, err := env.store.Get(ctx, ids[name])
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return s.State()
	}

	BeforeEach(func() {
		ctx = context.Background()
		env = newSQLTestEnv(time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC),
			optedIn("team-a"),
			deployment("team-a", "a", 2),
			deployment("team-a", "b", 3),
			deployment("team-a", "c", 4),
			deployment("team-a", "stuck", 1),
		)
		env.engine.CallTimeout = 200 * time.Millisecond

		ids = map[string]string{}
		for _, name := range []string{"a", "b", "c", "stuck"} {
			created, err := env.engine.CreateSchedule(ctx, schedule.CreateRequest{
				Namespace: "team-a", DeploymentName: name, ScaleDownTime: "20:00", ScaleUpTime: "08:00",
			})
			Expect(err).NotTo(HaveOccurred())
			ids[name] = created.ID
		}
	})

	It("should hibernate and restore through a night", func() {
		env.setTime(0, 20, 0)
		env.engine.Tick(ctx)
		for _, name := range []string{"a", "b", "c", "stuck"} {
			Expect(env.replicas("team-a", name)).To(Equal(int32(0)), name)
			Expect(state(name)).To(Equal(schedule.Hibernating), name)
		}

		env.setTime(1, 8, 0)
		env.engine.Tick(ctx)
		Expect(env.replicas("team-a", "a")).To(Equal(int32(2)))
		Expect(env.replicas("team-a", "b")).To(Equal(int32(3)))
		Expect(env.replicas("team-a", "c")).To(Equal(int32(4)))
		Expect(state("a")).To(Equal(schedule.Awake))
	})

	It("should evaluate every other schedule while one cluster call is stuck", func() {
		env.scaler.setStuck("team-a/stuck", true)

		env.setTime(0, 20, 0)
		env.engine.Tick(ctx)

		for _, name := range []string{"a", "b", "c"} {
			Expect(env.replicas("team-a", name)).To(Equal(int32(0)), name)
			Expect(state(name)).To(Equal(schedule.Hibernating), name)
		}
		Expect(state("stuck")).To(Equal(schedule.Awake))
		Expect(env.replicas("team-a", "stuck")).To(Equal(int32(1)))

		By("catching up once the call goes through")
		env.scaler.setStuck("team-a/stuck", false)
		env.setTime(0, 20, 1)
		env.engine.Tick(ctx)
		Expect(env.replicas("team-a", "stuck")).To(Equal(int32(0)))
		Expect(state("stuck")).To(Equal(schedule.Hibernating))
	})

	It("should isolate two failures in the same tick", func() {
		env.scaler.setBroken("team-a/a", true)
		env.scaler.setBroken("team-a/b", true)

		env.setTime(0, 20, 0)
		env.engine.Tick(ctx)

		Expect(state("a")).To(Equal(schedule.Awake))
		Expect(state("b")).To(Equal(schedule.Awake))
		Expect(state("c")).To(Equal(schedule.Hibernating))
		Expect(state("stuck")).To(Equal(schedule.Hibernating))

		env.scaler.setBroken("team-a/a", false)
		env.scaler.setBroken("team-a/b", false)
		env.setTime(0, 20, 1)
		env.engine.Tick(ctx)

		Expect(env.replicas("team-a", "a")).To(Equal(int32(0)))
		Expect(env.replicas("team-a", "b")).To(Equal(int32(0)))
		a, err := env.store.Get(ctx, ids["a"])
		Expect(err).NotTo(HaveOccurred())
		Expect(a.OriginalReplicas).To(HaveValue(Equal(int32(2))))
	})

	It("should restore on disable and on delete", func() {
		env.setTime(0, 21, 0)
		env.engine.Tick(ctx)
		Expect(state("a")).To(Equal(schedule.Hibernating))

		updated, err := env.engine.UpdateSchedule(ctx, ids["a"], schedule.Patch{Enabled: ptr.To(false)})
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.State()).To(Equal(schedule.Disabled))
		Expect(updated.IsScaledDown).To(BeFalse())
		Expect(env.replicas("team-a", "a")).To(Equal(int32(2)))

		Expect(env.engine.DeleteSchedule(ctx, ids["b"])).To(Succeed())
		Expect(env.replicas("team-a", "b")).To(Equal(int32(3)))
		_, err = env.store.Get(ctx, ids["b"])
		Expect(schedule.IsNotFound(err)).To(BeTrue())
	})
})
