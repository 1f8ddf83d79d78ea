package runtime

// Protocol names the API family a backend speaks once it is up. It decides
// the readiness probe and which proxy request families the instance may
// serve.
type Protocol string

const (
	// ProtocolOpenAI covers llama-server, koboldcpp and other servers
	// exposing OpenAI-compatible completion endpoints.
	ProtocolOpenAI Protocol = "openai"
	// ProtocolA1111 covers AUTOMATIC1111-style diffusion servers.
	ProtocolA1111 Protocol = "a1111"
)

// ProbeSpec describes the readiness check polled against an instance's
// listener until it succeeds or the budget runs out.
type ProbeSpec struct {
	Method       string
	Path         string
	ExpectStatus int
}

var probeByProtocol = map[Protocol]ProbeSpec{
	ProtocolOpenAI: {Method: "GET", Path: "/health", ExpectStatus: 200},
	ProtocolA1111:  {Method: "GET", Path: "/sdapi/v1/sd-models", ExpectStatus: 200},
}

// Probe returns the readiness probe for the protocol. Unknown protocols get
// the OpenAI probe; the closed adapter set only produces known ones.
func (p Protocol) Probe() ProbeSpec {
	if spec, ok := probeByProtocol[p]; ok {
		return spec
	}
	return probeByProtocol[ProtocolOpenAI]
}

// SupportsTxt2Img reports whether instances speaking this protocol are
// eligible targets for the image-generation request family.
func (p Protocol) SupportsTxt2Img() bool {
	return p == ProtocolA1111
}
