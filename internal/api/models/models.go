// Package models holds the request and response bodies of the status API.
package models

// HealthData reports registry liveness.
type HealthData struct {
	Status   string `json:"status" example:"ok" doc:"ok when the registry accepts operations"`
	Registry string `json:"registry" example:"valid" doc:"Registry lifecycle state"`
	Devices  int    `json:"devices" example:"7" doc:"Registered devices"`
	Sessions int    `json:"sessions" example:"1" doc:"Open sessions"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-27T10:30:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.1" doc:"Go toolchain"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Log models
type LogEntryData struct {
	Timestamp  string         `json:"timestamp" example:"2026-01-27T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"registry" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

type LogListData struct {
	Entries []LogEntryData `json:"entries" doc:"Oldest first"`
	Count   int            `json:"count" example:"100" doc:"Number of entries returned"`
}

type LogListResponse struct {
	Body LogListData
}

type LogLevelsData struct {
	Modules map[string]string `json:"modules" doc:"Effective level per module logger"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}

type LogLevelRequest struct {
	Module string `path:"module" example:"poll" doc:"Module name"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}
