/*
Copyright 2026 migalsp.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	hibernationv1 "github.com/migalsp/kubex-hibernate/api/v1"
	"github.com/migalsp/kubex-hibernate/internal/schedule"
)

func testDeployment(ns, name string, replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec:       appsv1.DeploymentSpec{Replicas: ptr.To(replicas)},
	}
}

func testNamespace(name string, optedIn bool) *corev1.Namespace {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if optedIn {
		ns.Labels = map[string]string{optInLabel: "true"}
	}
	return ns
}

func appliedSchedule(name, down, up string) *hibernationv1.HibernationSchedule {
	return &hibernationv1.HibernationSchedule{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: operatorNamespace},
		Spec: hibernationv1.HibernationScheduleSpec{
			TargetNamespace: "team-a",
			DeploymentName:  "api",
			ScaleDownTime:   down,
			ScaleUpTime:     up,
			Enabled:         true,
		},
	}
}

func replicasOf(env *testEnv, ns, name string) int32 {
	d := &appsv1.Deployment{}
	ExpectWithOffset(1, env.client.Get(context.Background(), client.ObjectKey{Namespace: ns, Name: name}, d)).To(Succeed())
	return *d.Spec.Replicas
}

var _ = Describe("HibernationSchedule Controller", func() {
	ctx := context.Background()
	// 22:00 UTC, inside a 20:00-08:00 window.
	evening := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	key := types.NamespacedName{Name: "api-nights", Namespace: operatorNamespace}

	reconcileOnce := func(env *testEnv) error {
		r := &HibernationScheduleReconciler{
			Client:   env.client,
			Scheme:   env.client.Scheme(),
			Engine:   env.engine,
			Recorder: env.recorder,
		}
		_, err := r.Reconcile(ctx, reconcile.Request{NamespacedName: key})
		return err
	}

	Context("When a schedule is applied directly", func() {
		It("should add the restore finalizer and hibernate inside the window", func() {
			env := newTestEnv(evening,
				testNamespace("team-a", true),
				testDeployment("team-a", "api", 3),
				appliedSchedule(key.Name, "20:00", "08:00"),
			)

			Expect(reconcileOnce(env)).To(Succeed())

			obj := &hibernationv1.HibernationSchedule{}
			Expect(env.client.Get(ctx, key, obj)).To(Succeed())
			Expect(controllerutil.ContainsFinalizer(obj, hibernationv1.RestoreFinalizer)).To(BeTrue())
			Expect(obj.Status.IsScaledDown).To(BeTrue())
			Expect(obj.Status.OriginalReplicas).To(HaveValue(Equal(int32(3))))
			Expect(replicasOf(env, "team-a", "api")).To(Equal(int32(0)))

			By("reconciling again without changes")
			Expect(reconcileOnce(env)).To(Succeed())
			Expect(replicasOf(env, "team-a", "api")).To(Equal(int32(0)))
		})

		It("should leave the deployment alone outside the window", func() {
			env := newTestEnv(evening.Add(-10*time.Hour),
				testNamespace("team-a", true),
				testDeployment("team-a", "api", 3),
				appliedSchedule(key.Name, "20:00", "08:00"),
			)

			Expect(reconcileOnce(env)).To(Succeed())
			Expect(replicasOf(env, "team-a", "api")).To(Equal(int32(3)))
		})

		It("should ignore an empty window", func() {
			env := newTestEnv(evening,
				testDeployment("team-a", "api", 3),
				appliedSchedule(key.Name, "20:00", "20:00"),
			)

			Expect(reconcileOnce(env)).To(Succeed())

			obj := &hibernationv1.HibernationSchedule{}
			Expect(env.client.Get(ctx, key, obj)).To(Succeed())
			Expect(obj.Finalizers).To(BeEmpty())
			Expect(replicasOf(env, "team-a", "api")).To(Equal(int32(3)))
			Expect(env.recorder.Events).To(Receive(ContainSubstring("InvalidSchedule")))
		})

		It("should not fail when the schedule is gone", func() {
			env := newTestEnv(evening)
			Expect(reconcileOnce(env)).To(Succeed())
		})

		It("should not fail when the deployment is missing", func() {
			env := newTestEnv(evening, appliedSchedule(key.Name, "20:00", "08:00"))
			Expect(reconcileOnce(env)).To(Succeed())

			obj := &hibernationv1.HibernationSchedule{}
			Expect(env.client.Get(ctx, key, obj)).To(Succeed())
			Expect(obj.Status.IsScaledDown).To(BeFalse())
		})
	})

	Context("When a hibernating schedule is deleted", func() {
		It("should restore the deployment and release the object", func() {
			env := newTestEnv(evening,
				testNamespace("team-a", true),
				testDeployment("team-a", "api", 4),
				appliedSchedule(key.Name, "20:00", "08:00"),
			)
			Expect(reconcileOnce(env)).To(Succeed())
			Expect(replicasOf(env, "team-a", "api")).To(Equal(int32(0)))

			obj := &hibernationv1.HibernationSchedule{}
			Expect(env.client.Get(ctx, key, obj)).To(Succeed())
			Expect(env.client.Delete(ctx, obj)).To(Succeed())

			Expect(reconcileOnce(env)).To(Succeed())
			Expect(replicasOf(env, "team-a", "api")).To(Equal(int32(4)))

			err := env.client.Get(ctx, key, &hibernationv1.HibernationSchedule{})
			Expect(errors.IsNotFound(err)).To(BeTrue())
		})
	})
})

var _ = Describe("Namespace opt-out Controller", func() {
	ctx := context.Background()
	evening := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)

	It("should disable and wake the schedules of a namespace that lost its label", func() {
		env := newTestEnv(evening,
			testNamespace("team-a", true),
			testNamespace("team-b", true),
			testDeployment("team-a", "api", 2),
			testDeployment("team-b", "api", 5),
		)
		for _, ns := range []string{"team-a", "team-b"} {
			s, err := env.store.Create(ctx, &schedule.Schedule{
				Namespace:      ns,
				DeploymentName: "api",
				ScaleDownTime:  schedule.MustParseTimeOfDay("20:00"),
				ScaleUpTime:    schedule.MustParseTimeOfDay("08:00"),
				Enabled:        true,
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = env.engine.Sync(ctx, s.ID)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(replicasOf(env, "team-a", "api")).To(Equal(int32(0)))
		Expect(replicasOf(env, "team-b", "api")).To(Equal(int32(0)))

		ns := &corev1.Namespace{}
		Expect(env.client.Get(ctx, client.ObjectKey{Name: "team-a"}, ns)).To(Succeed())
		delete(ns.Labels, optInLabel)
		Expect(env.client.Update(ctx, ns)).To(Succeed())

		r := &NamespaceOptOutReconciler{
			Client:     env.client,
			Scheme:     env.client.Scheme(),
			Engine:     env.engine,
			LabelKey:   optInLabel,
			LabelValue: "true",
		}
		for _, name := range []string{"team-a", "team-b", "missing"} {
			_, err := r.Reconcile(ctx, reconcile.Request{NamespacedName: types.NamespacedName{Name: name}})
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(replicasOf(env, "team-a", "api")).To(Equal(int32(2)))
		Expect(replicasOf(env, "team-b", "api")).To(Equal(int32(0)))

		disabled, err := env.store.GetByNamespaceDeployment(ctx, "team-a", "api")
		Expect(err).NotTo(HaveOccurred())
		Expect(disabled.Enabled).To(BeFalse())
		Expect(disabled.IsScaledDown).To(BeFalse())
	})
})
