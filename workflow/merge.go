package workflow

import "github.com/initializ/dockflow/types"

// MergeSuccess resolves the success configuration of a pipeline. Each field
// of specific (on_test_success) replaces the matching field of general
// (on_success) when it is non-empty; fields are merged independently.
func MergeSuccess(general, specific *types.SuccessStep) types.SuccessStep {
	var out types.SuccessStep
	for _, s := range []*types.SuccessStep{general, specific} {
		if s == nil {
			continue
		}
		if len(s.AdditionalTags) > 0 {
			out.AdditionalTags = append([]string(nil), s.AdditionalTags...)
		}
		if s.Save != nil && s.Save.Output != "" {
			save := *s.Save
			out.Save = &save
		}
		if s.Publish.HasTargets() {
			publish := *s.Publish
			out.Publish = &publish
		}
		if s.After != nil && len(s.After.Command) > 0 {
			after := *s.After
			out.After = &after
		}
	}
	return out
}
