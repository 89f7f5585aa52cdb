package v1alpha1

const (
	RootAPIVersion = "flotilla.dev/v1alpha1"
	RootKind       = "Root"
)

// RootManifest is the rendered form of the root template. Its application
// list expands into the full child application set for an environment.
type RootManifest struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`

	Metadata RootMetadata `json:"metadata"`

	// MinEngineVersion is a semver constraint the running engine must
	// satisfy, e.g. ">= 0.1.0".
	MinEngineVersion string `json:"minEngineVersion,omitempty"`

	// Defaults apply to every application unless overridden per entry
	// or by the overlay.
	Defaults ApplicationDefaults `json:"defaults,omitempty"`

	Applications []ApplicationTemplate `json:"applications,omitempty"`
}

type RootMetadata struct {
	Name string `json:"name"`
}

type ApplicationDefaults struct {
	Destination Destination `json:"destination,omitempty"`
	SyncPolicy  *SyncPolicy `json:"syncPolicy,omitempty"`
	Wave        int         `json:"wave,omitempty"`
}

// ApplicationTemplate is one candidate application in the root manifest.
// Pointer fields distinguish "not set" from zero values so overlay
// overrides can win key-by-key.
type ApplicationTemplate struct {
	Name string `json:"name"`
	Path string `json:"path"`

	// Enabled controls inclusion; nil means enabled.
	Enabled *bool `json:"enabled,omitempty"`

	Wave      *int   `json:"wave,omitempty"`
	Cluster   string `json:"cluster,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Paused    bool   `json:"paused,omitempty"`

	Values map[string]interface{} `json:"values,omitempty"`

	SyncPolicy *SyncPolicy `json:"syncPolicy,omitempty"`
}

// Overlay is an environment-specific value set layered over the root
// template defaults. Overlays may extend other overlays; extension order is
// depth-first with later layers winning.
type Overlay struct {
	Name string `json:"name"`

	// Extends names overlays resolved before this one.
	Extends []string `json:"extends,omitempty"`

	// Include and Exclude are glob patterns over application names.
	// Exclusion wins over inclusion. Empty include means all.
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`

	// Values are merged over the template's values.yaml key-by-key.
	Values map[string]interface{} `json:"values,omitempty"`

	// Applications holds per-application overrides keyed by name.
	Applications map[string]ApplicationOverride `json:"applications,omitempty"`
}

type ApplicationOverride struct {
	Enabled    *bool                  `json:"enabled,omitempty"`
	Wave       *int                   `json:"wave,omitempty"`
	Cluster    string                 `json:"cluster,omitempty"`
	Namespace  string                 `json:"namespace,omitempty"`
	Paused     *bool                  `json:"paused,omitempty"`
	Values     map[string]interface{} `json:"values,omitempty"`
	SyncPolicy *SyncPolicy            `json:"syncPolicy,omitempty"`
}
