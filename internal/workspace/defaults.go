package workspace

import "policycopilot/internal/models"

// DefaultWorkspaceID is active until the user switches.
const DefaultWorkspaceID = "in"

func defaultWorkspaces() []models.Workspace {
	return []models.Workspace{
		{ID: "vn", Name: "Vietnam Exchange", Flag: "🇻🇳", Color: "bg-blue-600"},
		{ID: "in", Name: "India Exchange", Flag: "🇮🇳", Color: "bg-orange-500"},
		{ID: "id", Name: "Indonesia Exchange", Flag: "🇮🇩", Color: "bg-red-600"},
	}
}

var defaultProfiles = map[string]models.UserProfile{
	"vn": {FirstName: "Sarah", LastName: "Jenkins", Email: "sarah.jenkins@policy.gov.vn", Bio: "Policy analyst for the Vietnam e-mobility exchange."},
	"in": {FirstName: "Arjun", LastName: "Mehta", Email: "arjun.mehta@policy.gov.in", Bio: "Program lead for the India e-bus financing exchange."},
	"id": {FirstName: "Dewi", LastName: "Lestari", Email: "dewi.lestari@policy.go.id", Bio: "Coordinator for the Indonesia EV acceleration exchange."},
}

func defaultProfile(workspaceID string) models.UserProfile {
	return defaultProfiles[workspaceID]
}
