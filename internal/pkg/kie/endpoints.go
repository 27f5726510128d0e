package kie

// Family identifies which KIE.ai API surface a model is served by.
// Most models go through the unified Market API; a handful of first-party
// integrations keep their own paths.
type Family string

const (
	FamilyMarket      Family = "market"
	FamilyVeo3        Family = "veo3"
	Family4oImage     Family = "4o-image"
	FamilyRunway      Family = "runway"
	FamilyLuma        Family = "luma"
	FamilyFluxKontext Family = "flux-kontext"
	FamilySuno        Family = "suno"
)

// Endpoints holds the per-family request paths.
type Endpoints struct {
	CreatePath   string
	StatusPath   string
	DownloadPath string // optional, most families surface the URL in status
	CallbackPath string
}

var familyEndpoints = map[Family]Endpoints{
	FamilyMarket: {
		CreatePath: "/api/v1/jobs/createTask",
		StatusPath: "/api/v1/jobs/recordInfo",
	},
	FamilyVeo3: {
		CreatePath:   "/api/v1/veo/generate",
		StatusPath:   "/api/v1/veo/record-info",
		CallbackPath: "/api/v1/veo/callbacks",
	},
	Family4oImage: {
		CreatePath:   "/api/v1/gpt4o-image/generate",
		StatusPath:   "/api/v1/gpt4o-image/record-info",
		DownloadPath: "/api/v1/gpt4o-image/download-url",
		CallbackPath: "/api/v1/gpt4o-image/callbacks",
	},
	FamilyRunway: {
		CreatePath:   "/api/v1/runway/generate",
		StatusPath:   "/api/v1/runway/record-info",
		CallbackPath: "/api/v1/runway/callbacks",
	},
	// Luma rides the modify API, not /api/v1/luma.
	FamilyLuma: {
		CreatePath:   "/api/v1/modify/generate",
		StatusPath:   "/api/v1/modify/record-info",
		CallbackPath: "/api/v1/modify/callbacks",
	},
	FamilyFluxKontext: {
		CreatePath:   "/api/v1/flux/kontext/generate",
		StatusPath:   "/api/v1/flux/kontext/getImageDetails",
		CallbackPath: "/api/v1/flux/kontext/callbacks",
	},
	// Suno uses the bare /api/v1/generate path.
	FamilySuno: {
		CreatePath:   "/api/v1/generate",
		StatusPath:   "/api/v1/generate/record-info",
		CallbackPath: "/api/v1/generate/callbacks",
	},
}

// EndpointsFor returns the endpoint set for a family, falling back to the
// Market API for unknown or empty families.
func EndpointsFor(family Family) Endpoints {
	if ep, ok := familyEndpoints[family]; ok {
		return ep
	}
	return familyEndpoints[FamilyMarket]
}
