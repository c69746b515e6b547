package config

const (
	// MaxSectionContentLength is the maximum length for a section's short
	// content (the outline label, not the prose). Prose lives in the
	// replicated document and has no server-side cap.
	MaxSectionContentLength = 2000

	// MaxDependencyLabelLength is the maximum length for a dependency
	// edge label.
	MaxDependencyLabelLength = 255

	// MaxUserNameLength is the maximum length for a presence display name.
	MaxUserNameLength = 255

	// MaxIDLength bounds client-supplied identifiers. IDs are opaque
	// strings chosen by clients; the cap only guards against abuse.
	MaxIDLength = 128
)
