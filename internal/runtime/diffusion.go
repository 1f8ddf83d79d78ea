package runtime

import (
	"fmt"

	"modelzoo/pkg/types"
)

// DiffusionRuntime drives an AUTOMATIC1111-style stable diffusion server
// started from its launch script. Instances speak the a1111 protocol and are
// the targets of the image-generation proxy family.
type DiffusionRuntime struct {
	name       string
	scriptPath string
}

// NewDiffusion constructs the diffusion server adapter.
func NewDiffusion(name, scriptPath string) *DiffusionRuntime {
	return &DiffusionRuntime{name: name, scriptPath: scriptPath}
}

func (r *DiffusionRuntime) Definition() Definition {
	return Definition{
		Name:     r.name,
		Formats:  []string{"safetensors", "ckpt"},
		Protocol: ProtocolA1111,
		Params: []types.RuntimeParameter{
			{Name: "medvram", Description: "Reduce VRAM usage at the cost of speed", Type: types.ParamBool, Default: false},
			{Name: "xformers", Description: "Enable xformers attention", Type: types.ParamBool, Default: true},
			{Name: "extra_args", Description: "Optional additional arguments to the script", Type: types.ParamString, Default: ""},
		},
	}
}

func (r *DiffusionRuntime) BuildCommand(model types.ModelDescriptor, listener types.Listener, params map[string]any) ([]string, error) {
	cmd := []string{
		r.scriptPath,
		"--ckpt", model.ModelID,
		"--api",
		"--nowebui",
		"--server-name", listener.Host,
		"--port", fmt.Sprint(listener.Port),
	}
	if paramBool(params, "medvram") {
		cmd = append(cmd, "--medvram")
	}
	if paramBool(params, "xformers") {
		cmd = append(cmd, "--xformers")
	}
	return appendExtraArgs(cmd, params), nil
}
