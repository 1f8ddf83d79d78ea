package runtime

import (
	"fmt"

	"modelzoo/pkg/types"
)

// LlamaRuntime drives a llama.cpp llama-server binary.
type LlamaRuntime struct {
	name    string
	binPath string
}

// NewLlama constructs the llama-server adapter.
func NewLlama(name, binPath string) *LlamaRuntime {
	return &LlamaRuntime{name: name, binPath: binPath}
}

func (r *LlamaRuntime) Definition() Definition {
	return Definition{
		Name:     r.name,
		Formats:  []string{"gguf"},
		Protocol: ProtocolOpenAI,
		Params: []types.RuntimeParameter{
			{Name: "context", Description: "Context size", Type: types.ParamInt, Default: 4096},
			{Name: "num_gpu_layers", Description: "Number of GPU layers", Type: types.ParamInt, Default: 999},
			{Name: "split_mode", Description: "How to split the model across GPUs", Type: types.ParamEnum, Default: "row",
				Options: map[string]string{
					"none":  "single GPU",
					"layer": "split layers across GPUs",
					"row":   "split rows across GPUs",
				}},
			{Name: "flash_attention", Description: "Enable flash attention", Type: types.ParamBool, Default: true},
			{Name: "extra_args", Description: "Optional additional arguments to the binary", Type: types.ParamString, Default: ""},
		},
	}
}

func (r *LlamaRuntime) BuildCommand(model types.ModelDescriptor, listener types.Listener, params map[string]any) ([]string, error) {
	cmd := []string{
		r.binPath,
		"-m", model.ModelID,
		"-c", fmt.Sprint(paramInt(params, "context")),
		"-ngl", fmt.Sprint(paramInt(params, "num_gpu_layers")),
		"-sm", paramString(params, "split_mode"),
		"--host", listener.Host,
		"--port", fmt.Sprint(listener.Port),
	}
	if paramBool(params, "flash_attention") {
		cmd = append(cmd, "-fa")
	}
	return appendExtraArgs(cmd, params), nil
}
