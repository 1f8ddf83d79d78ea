package runtime

import (
	"fmt"

	"modelzoo/pkg/types"
)

// PassthroughRuntime exposes a model server that is already running
// elsewhere by spawning a local TCP relay (socat) in front of it. The relay
// is supervised like any other instance, so the usual readiness, logging and
// stop semantics apply.
type PassthroughRuntime struct {
	name    string
	binPath string
}

// NewPassthrough constructs the relay adapter. binPath is the socat binary.
func NewPassthrough(name, binPath string) *PassthroughRuntime {
	return &PassthroughRuntime{name: name, binPath: binPath}
}

func (r *PassthroughRuntime) Definition() Definition {
	return Definition{
		Name:     r.name,
		Formats:  []string{"*"},
		Protocol: ProtocolOpenAI,
		Params: []types.RuntimeParameter{
			{Name: "target_host", Description: "Host of the upstream server", Type: types.ParamString, Default: nil},
			{Name: "target_port", Description: "Port of the upstream server", Type: types.ParamInt, Default: nil},
		},
	}
}

func (r *PassthroughRuntime) BuildCommand(model types.ModelDescriptor, listener types.Listener, params map[string]any) ([]string, error) {
	host := paramString(params, "target_host")
	port := paramInt(params, "target_port")
	if host == "" || port <= 0 {
		return nil, validationErrorf("runtime %s: target_host and target_port are required", r.name)
	}
	return []string{
		r.binPath,
		fmt.Sprintf("TCP-LISTEN:%d,fork,reuseaddr,bind=%s", listener.Port, listener.Host),
		fmt.Sprintf("TCP:%s:%d", host, port),
	}, nil
}
