package runtime

import (
	"fmt"

	"modelzoo/pkg/types"
)

// ScriptRuntime runs an operator-provided server script. The script receives
// the model path and listener via fixed flags and must expose the configured
// protocol's endpoints once up. Compatible formats come from configuration.
type ScriptRuntime struct {
	name       string
	scriptPath string
	formats    []string
	protocol   Protocol
}

// NewScript constructs a generic script-based adapter.
func NewScript(name, scriptPath string, formats []string, protocol Protocol) *ScriptRuntime {
	if len(formats) == 0 {
		formats = []string{"*"}
	}
	if protocol == "" {
		protocol = ProtocolOpenAI
	}
	return &ScriptRuntime{name: name, scriptPath: scriptPath, formats: formats, protocol: protocol}
}

func (r *ScriptRuntime) Definition() Definition {
	return Definition{
		Name:     r.name,
		Formats:  r.formats,
		Protocol: r.protocol,
		Params: []types.RuntimeParameter{
			{Name: "extra_args", Description: "Optional additional arguments to the script", Type: types.ParamString, Default: ""},
		},
	}
}

func (r *ScriptRuntime) BuildCommand(model types.ModelDescriptor, listener types.Listener, params map[string]any) ([]string, error) {
	cmd := []string{
		r.scriptPath,
		"--model", model.ModelID,
		"--host", listener.Host,
		"--port", fmt.Sprint(listener.Port),
	}
	return appendExtraArgs(cmd, params), nil
}
