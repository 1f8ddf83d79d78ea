package runtime

import (
	"fmt"

	"modelzoo/pkg/types"
)

// KoboldCppRuntime drives a koboldcpp server binary.
type KoboldCppRuntime struct {
	name    string
	binPath string
}

// NewKoboldCpp constructs the koboldcpp adapter.
func NewKoboldCpp(name, binPath string) *KoboldCppRuntime {
	return &KoboldCppRuntime{name: name, binPath: binPath}
}

func (r *KoboldCppRuntime) Definition() Definition {
	return Definition{
		Name:     r.name,
		Formats:  []string{"gguf"},
		Protocol: ProtocolOpenAI,
		Params: []types.RuntimeParameter{
			{Name: "contextsize", Description: "Context size", Type: types.ParamInt, Default: 4096},
			{Name: "gpulayers", Description: "Number of GPU layers", Type: types.ParamInt, Default: -1},
			{Name: "flashattention", Description: "Enable flash attention", Type: types.ParamBool, Default: false},
			{Name: "quantkv", Description: "KV cache quantization", Type: types.ParamEnum, Default: "0",
				Options: map[string]string{
					"0": "f16",
					"1": "q8",
					"2": "q4",
				}},
			{Name: "extra_args", Description: "Optional additional arguments to the binary", Type: types.ParamString, Default: ""},
		},
	}
}

func (r *KoboldCppRuntime) BuildCommand(model types.ModelDescriptor, listener types.Listener, params map[string]any) ([]string, error) {
	cmd := []string{
		r.binPath,
		"--model", model.ModelID,
		"--contextsize", fmt.Sprint(paramInt(params, "contextsize")),
		"--gpulayers", fmt.Sprint(paramInt(params, "gpulayers")),
		"--host", listener.Host,
		"--port", fmt.Sprint(listener.Port),
		"--usecublas",
	}
	if paramBool(params, "flashattention") {
		cmd = append(cmd, "--flashattention")
	}
	cmd = append(cmd, "--quantkv", paramString(params, "quantkv"))
	return appendExtraArgs(cmd, params), nil
}
