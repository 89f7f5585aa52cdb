package v1alpha1

const (
	// ApplicationLabel marks every live resource with the application
	// that owns it. Ownership listing and pruning key off this label.
	ApplicationLabel = "flotilla.dev/application"
	// RootLabel marks resources with the root that expanded into their
	// owning application.
	RootLabel = "flotilla.dev/root"
)
