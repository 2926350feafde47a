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

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RestoreFinalizer keeps a HibernationSchedule around until its deployment
// has been scaled back up.
const RestoreFinalizer = "hibernation.kubex.io/restore"

// HibernationScheduleSpec defines the hibernation window of a single Deployment.
// Field names follow the persisted record contract shared with the SQL store.
type HibernationScheduleSpec struct {
	// TargetNamespace is the namespace of the hibernated Deployment
	// +kubebuilder:validation:Required
	TargetNamespace string `json:"namespace"`

	// DeploymentName is the name of the hibernated Deployment
	// +kubebuilder:validation:Required
	DeploymentName string `json:"deployment_name"`

	// ScaleDownTime in HH:MM format (operator timezone)
	// +kubebuilder:validation:Pattern=`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`
	ScaleDownTime string `json:"scale_down_time"`

	// ScaleUpTime in HH:MM format (operator timezone)
	// +kubebuilder:validation:Pattern=`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`
	ScaleUpTime string `json:"scale_up_time"`

	// Enabled turns the schedule on or off
	// +kubebuilder:default=true
	Enabled bool `json:"enabled"`
}

// HibernationScheduleStatus holds the reconciled hibernation state.
// It is written together with the spec, there is no status subresource.
type HibernationScheduleStatus struct {
	// OriginalReplicas is the replica count restored on wake up
	// +optional
	OriginalReplicas *int32 `json:"original_replicas,omitempty"`

	// IsScaledDown is true while the Deployment is parked at zero
	IsScaledDown bool `json:"is_scaled_down"`

	// LastScaledAt is the time of the last successful scale transition
	// +optional
	LastScaledAt *metav1.Time `json:"last_scaled_at,omitempty"`

	// UpdatedAt is the time of the last write to this record
	// +optional
	UpdatedAt metav1.Time `json:"updated_at,omitzero"`
}

// +kubebuilder:object:root=true
// +kubebuilder:resource:shortName=hs
// +kubebuilder:printcolumn:name="Namespace",type=string,JSONPath=`.spec.namespace`
// +kubebuilder:printcolumn:name="Deployment",type=string,JSONPath=`.spec.deployment_name`
// +kubebuilder:printcolumn:name="Down",type=string,JSONPath=`.spec.scale_down_time`
// +kubebuilder:printcolumn:name="Up",type=string,JSONPath=`.spec.scale_up_time`
// +kubebuilder:printcolumn:name="Hibernating",type=boolean,JSONPath=`.status.is_scaled_down`

// HibernationSchedule is the Schema for the hibernationschedules API
type HibernationSchedule struct {
	metav1.TypeMeta `json:",inline"`

	// metadata is a standard object metadata
	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// +required
	Spec HibernationScheduleSpec `json:"spec"`

	// +optional
	Status HibernationScheduleStatus `json:"status,omitzero"`
}

// +kubebuilder:object:root=true

// HibernationScheduleList contains a list of HibernationSchedule
type HibernationScheduleList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []HibernationSchedule `json:"items"`
}

func init() {
	SchemeBuilder.Register(&HibernationSchedule{}, &HibernationScheduleList{})
}
