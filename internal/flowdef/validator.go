package flowdef

import (
	"fmt"
)

// VError describes a single validation error in a seed file.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates seed files structurally and referentially: required
// fields, positive contiguous step orders, unique process types.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all seeds. Any returned error makes the whole seed set
// unusable: a half-seeded deployment would strand running approvals.
func (v *Validator) Validate(seeds []FlowSeed) []VError {
	var errs []VError

	byProcessType := make(map[string]string, len(seeds))
	for i, seed := range seeds {
		prefix := fmt.Sprintf("flows[%d]", i)
		if seed.SourceFile != "" {
			prefix = seed.SourceFile
		}
		errs = append(errs, v.validateSeed(prefix, seed)...)

		if seed.ProcessType != "" {
			if prev, dup := byProcessType[seed.ProcessType]; dup {
				errs = append(errs, VError{
					Path: prefix + ".process_type", Code: "DUPLICATE",
					Message: fmt.Sprintf("process type %q already defined in %s", seed.ProcessType, prev),
				})
			}
			byProcessType[seed.ProcessType] = prefix
		}
	}
	return errs
}

func (v *Validator) validateSeed(prefix string, seed FlowSeed) []VError {
	var errs []VError

	if seed.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if seed.ProcessType == "" {
		errs = append(errs, VError{Path: prefix + ".process_type", Code: "REQUIRED", Message: "process_type is required"})
	}
	if len(seed.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
		return errs
	}

	orders := make(map[int]bool, len(seed.Steps))
	for i, st := range seed.Steps {
		p := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if st.Name == "" {
			errs = append(errs, VError{Path: p + ".name", Code: "REQUIRED", Message: "step name is required"})
		}
		if st.RequiredRoleID == "" {
			errs = append(errs, VError{Path: p + ".required_role_id", Code: "REQUIRED", Message: "step role is required"})
		}
		if st.Order < 1 {
			errs = append(errs, VError{Path: p + ".order", Code: "INVALID", Message: "step order must be positive"})
			continue
		}
		if orders[st.Order] {
			errs = append(errs, VError{
				Path: p + ".order", Code: "DUPLICATE",
				Message: fmt.Sprintf("step order %d appears more than once", st.Order),
			})
		}
		orders[st.Order] = true
	}

	// Orders must be contiguous from 1 so the progress label never skips.
	if len(orders) == len(seed.Steps) {
		for want := 1; want <= len(seed.Steps); want++ {
			if !orders[want] {
				errs = append(errs, VError{
					Path: prefix + ".steps", Code: "GAP",
					Message: fmt.Sprintf("step orders must be contiguous from 1, missing %d", want),
				})
				break
			}
		}
	}
	return errs
}
