package workflow

import (
	"reflect"
	"testing"

	"github.com/initializ/dockflow/types"
)

func TestMergeSuccess(t *testing.T) {
	save := &types.SaveStep{Output: "api.tar.gz", Compression: "gzip"}
	publish := &types.PublishStep{Targets: []types.PublishTarget{{Registry: "ghcr.io", Tags: []string{"1.0"}}}}
	after := &types.HookSpec{Command: []string{"notify"}}

	tests := []struct {
		name     string
		general  *types.SuccessStep
		specific *types.SuccessStep
		want     types.SuccessStep
	}{
		{"both nil", nil, nil, types.SuccessStep{}},
		{"general only", &types.SuccessStep{AdditionalTags: []string{"stable"}}, nil,
			types.SuccessStep{AdditionalTags: []string{"stable"}}},
		{"specific wins per field", &types.SuccessStep{AdditionalTags: []string{"stable"}, Save: save},
			&types.SuccessStep{AdditionalTags: []string{"tested"}},
			types.SuccessStep{AdditionalTags: []string{"tested"}, Save: save}},
		{"empty fields do not override", &types.SuccessStep{Publish: publish, After: after},
			&types.SuccessStep{Publish: &types.PublishStep{}, After: &types.HookSpec{}},
			types.SuccessStep{Publish: publish, After: after}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeSuccess(tt.general, tt.specific)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeSuccess() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMergeSuccess_CopiesTags(t *testing.T) {
	general := &types.SuccessStep{AdditionalTags: []string{"stable"}}
	got := MergeSuccess(general, nil)
	got.AdditionalTags[0] = "mutated"
	if general.AdditionalTags[0] != "stable" {
		t.Error("MergeSuccess aliases the input slice")
	}
}
