package api

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ConfigEnvVar is the environment variable carrying the JSON module spec.
// The controller that schedules the runner writes it; field names are
// camelCase, unknown fields are ignored.
const ConfigEnvVar = "WASI_CONFIG"

// ImageEnvVar is consulted for the image reference only when the spec's
// image field is empty.
const ImageEnvVar = "IMAGE"

// Resource name keys recognized in limits/requests maps.
const (
	ResourceMemory = "memory"
	ResourceCPU    = "cpu"
)

// ModuleSpec describes the one workload this runner hosts: which OCI
// artifact to pull and the capability set each per-request sandbox gets.
type ModuleSpec struct {
	Image        string        `json:"image,omitempty"`
	Args         []string      `json:"args,omitempty"`
	Env          []EnvVar      `json:"env,omitempty"`
	VolumeMounts []VolumeMount `json:"volumeMounts,omitempty"`
	Resources    Resources     `json:"resources,omitempty"`
	Network      *NetworkSpec  `json:"network,omitempty"`
}

type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// VolumeMount exposes a host directory to the guest at MountPath.
// SubPath, when set, is appended to the host side only; the guest path is
// always MountPath.
type VolumeMount struct {
	Name      string `json:"name"`
	MountPath string `json:"mountPath"`
	ReadOnly  bool   `json:"readOnly,omitempty"`
	SubPath   string `json:"subPath,omitempty"`
}

type Resources struct {
	Limits   map[string]string `json:"limits,omitempty"`
	Requests map[string]string `json:"requests,omitempty"`
}

// Memory returns the memory quantity string, preferring limits over
// requests. ok is false when neither is set.
func (r Resources) Memory() (string, bool) {
	return r.get(ResourceMemory)
}

// CPU returns the cpu quantity string, preferring limits over requests.
func (r Resources) CPU() (string, bool) {
	return r.get(ResourceCPU)
}

func (r Resources) get(key string) (string, bool) {
	if v, ok := r.Limits[key]; ok {
		return v, true
	}
	if v, ok := r.Requests[key]; ok {
		return v, true
	}
	return "", false
}

// NetworkSpec declares the guest's network capability. A nil NetworkSpec
// means networking is wholly disabled.
type NetworkSpec struct {
	// Inherit grants the host's network wholesale, bypassing pattern checks.
	Inherit bool `json:"inherit,omitempty"`
	// AllowIPNameLookup gates DNS resolution inside the guest.
	// Defaults to true when the network spec is present.
	AllowIPNameLookup *bool `json:"allowIpNameLookup,omitempty"`

	// Address pattern lists, one per socket use. Patterns are "host:port"
	// with "*" wildcards; see pkg/policy.
	TCPBind     []string `json:"tcpBind,omitempty"`
	TCPConnect  []string `json:"tcpConnect,omitempty"`
	UDPBind     []string `json:"udpBind,omitempty"`
	UDPConnect  []string `json:"udpConnect,omitempty"`
	UDPOutgoing []string `json:"udpOutgoing,omitempty"`
}

// GetAllowIPNameLookup returns the DNS capability flag, defaulting to true
// when the spec is present and false when it is nil.
func (n *NetworkSpec) GetAllowIPNameLookup() bool {
	if n == nil {
		return false
	}
	if n.AllowIPNameLookup == nil {
		return true
	}
	return *n.AllowIPNameLookup
}

// HasPatterns reports whether any of the five pattern lists is non-empty.
func (n *NetworkSpec) HasPatterns() bool {
	if n == nil {
		return false
	}
	return len(n.TCPBind) > 0 ||
		len(n.TCPConnect) > 0 ||
		len(n.UDPBind) > 0 ||
		len(n.UDPConnect) > 0 ||
		len(n.UDPOutgoing) > 0
}

// LoadFromEnv reads the module spec from ConfigEnvVar. A missing or empty
// variable yields the all-defaults spec; malformed JSON is an error the
// caller treats as fatal.
func LoadFromEnv() (*ModuleSpec, error) {
	raw, ok := os.LookupEnv(ConfigEnvVar)
	if !ok || strings.TrimSpace(raw) == "" {
		return &ModuleSpec{}, nil
	}
	var spec ModuleSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeConfig, err)
	}
	return &spec, nil
}
