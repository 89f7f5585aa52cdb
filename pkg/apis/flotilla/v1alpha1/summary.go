package v1alpha1

// Summary is the reduction of all child application states under one root.
type Summary struct {
	Desired     int `json:"desired"`
	Healthy     int `json:"healthy,omitempty"`
	Progressing int `json:"progressing,omitempty"`
	Degraded    int `json:"degraded,omitempty"`
	Suspended   int `json:"suspended,omitempty"`
	Missing     int `json:"missing,omitempty"`
	Unknown     int `json:"unknown,omitempty"`

	// NonHealthy lists detail for the first few applications that are
	// not healthy.
	NonHealthy []NonHealthyApplication `json:"nonHealthy,omitempty"`
}

type NonHealthyApplication struct {
	Name    string       `json:"name"`
	Wave    int          `json:"wave"`
	Health  HealthStatus `json:"health"`
	Message string       `json:"message,omitempty"`
}

// RootStatus is the aggregate exposed for the root application.
type RootStatus struct {
	Name     string `json:"name"`
	Revision string `json:"revision,omitempty"`
	Overlay  string `json:"overlay,omitempty"`

	Sync    SyncStatus   `json:"sync"`
	Health  HealthStatus `json:"health"`
	Summary Summary      `json:"summary"`
}
