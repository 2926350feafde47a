package schedule

import "fmt"

// CreateRequest is the input for creating a schedule.
type CreateRequest struct {
	Namespace      string `json:"namespace"`
	DeploymentName string `json:"deployment_name"`
	ScaleDownTime  string `json:"scale_down_time"`
	ScaleUpTime    string `json:"scale_up_time"`
}

// Validate checks required fields and parses both window bounds.
func (r CreateRequest) Validate() (down, up TimeOfDay, err error) {
	if r.Namespace == "" {
		return 0, 0, missing("namespace")
	}
	if r.DeploymentName == "" {
		return 0, 0, missing("deployment_name")
	}
	if down, err = ParseTimeOfDay(r.ScaleDownTime); err != nil {
		return 0, 0, err
	}
	if up, err = ParseTimeOfDay(r.ScaleUpTime); err != nil {
		return 0, 0, err
	}
	return down, up, ValidateWindow(down, up)
}

// PatchRequest is the input for a partial update. Nil fields are unchanged.
type PatchRequest struct {
	ScaleDownTime *string `json:"scale_down_time"`
	ScaleUpTime   *string `json:"scale_up_time"`
	Enabled       *bool   `json:"enabled"`
}

// Patch is a parsed PatchRequest.
type Patch struct {
	ScaleDownTime *TimeOfDay
	ScaleUpTime   *TimeOfDay
	Enabled       *bool
}

// Parse validates the time fields of the request.
func (r PatchRequest) Parse() (Patch, error) {
	p := Patch{Enabled: r.Enabled}
	if r.ScaleDownTime != nil {
		t, err := ParseTimeOfDay(*r.ScaleDownTime)
		if err != nil {
			return Patch{}, err
		}
		p.ScaleDownTime = &t
	}
	if r.ScaleUpTime != nil {
		t, err := ParseTimeOfDay(*r.ScaleUpTime)
		if err != nil {
			return Patch{}, err
		}
		p.ScaleUpTime = &t
	}
	return p, nil
}

// Apply writes the set fields of p into s and validates the resulting window.
func (p Patch) Apply(s *Schedule) error {
	down, up := s.ScaleDownTime, s.ScaleUpTime
	if p.ScaleDownTime != nil {
		down = *p.ScaleDownTime
	}
	if p.ScaleUpTime != nil {
		up = *p.ScaleUpTime
	}
	if err := ValidateWindow(down, up); err != nil {
		return err
	}
	s.ScaleDownTime, s.ScaleUpTime = down, up
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	return nil
}

// ValidateWindow rejects a window whose bounds are equal. Such a window would
// hibernate the deployment around the clock.
func ValidateWindow(down, up TimeOfDay) error {
	if down == up {
		return &ValidationError{
			Reason:  ReasonEmptyWindow,
			Message: fmt.Sprintf("scale_down_time and scale_up_time must differ (both %s)", down),
		}
	}
	return nil
}

func missing(field string) error {
	return &ValidationError{Reason: ReasonMissingField, Message: field + " is required"}
}
