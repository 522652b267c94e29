// Package catalog declares the collaborators the install pipeline talks to
// but does not implement: the model discovery service and the model
// registry that tracks what is installed.
package catalog

import (
	"context"
	"time"

	"github.com/burncloud/model-installer/pkg/checksum"
)

// ModelType is the task family of a model.
type ModelType string

const (
	TypeTextGeneration  ModelType = "text_generation"
	TypeChatCompletion  ModelType = "chat_completion"
	TypeEmbedding       ModelType = "embedding"
	TypeCodeGeneration  ModelType = "code_generation"
	TypeImageGeneration ModelType = "image_generation"
	TypeMultimodal      ModelType = "multimodal"
)

// Requirements are the host resources a model declares.
type Requirements struct {
	MinRAMGB           float64  `json:"min_ram_gb"`
	MinVRAMGB          *float64 `json:"min_vram_gb,omitempty"`
	GPURequired        bool     `json:"gpu_required"`
	CPUCores           uint32   `json:"cpu_cores"`
	DiskSpaceGB        float64  `json:"disk_space_gb"`
	SupportedPlatforms []string `json:"supported_platforms,omitempty"`
}

// DiscoveredModel is one search hit from the discovery service.
type DiscoveredModel struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	DisplayName  string        `json:"display_name"`
	Description  string        `json:"description"`
	SizeGB       float64       `json:"size_gb"`
	Type         ModelType     `json:"model_type"`
	Provider     string        `json:"provider"`
	Tags         []string      `json:"tags,omitempty"`
	Requirements Requirements  `json:"requirements"`
	DownloadURL  string        `json:"download_url"`
	Checksum     string        `json:"checksum"`
	ChecksumType checksum.Type `json:"checksum_type"`
	License      string        `json:"license"`
	Verified     bool          `json:"is_verified"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// SearchRequest filters a discovery query. Zero values mean "any".
type SearchRequest struct {
	Query    string    `json:"query,omitempty"`
	Type     ModelType `json:"model_type,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Page     int       `json:"page,omitempty"`
	PageSize int       `json:"page_size,omitempty"`
}

// Discoverer finds models by name.
type Discoverer interface {
	Search(ctx context.Context, req SearchRequest) ([]DiscoveredModel, error)
}

// Status is the lifecycle state the registry keeps for a model.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusDownloading Status = "downloading"
	StatusInstalled   Status = "installed"
	StatusRunning     Status = "running"
	StatusStopped     Status = "stopped"
	StatusError       Status = "error"
)

// Model is a registry entry.
type Model struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Type        ModelType `json:"model_type"`
	Provider    string    `json:"provider"`
	SizeBytes   int64     `json:"size_bytes"`
	Description string    `json:"description,omitempty"`
	Official    bool      `json:"is_official"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest registers a new model.
type CreateRequest struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Type        ModelType `json:"model_type"`
	Provider    string    `json:"provider"`
	SizeBytes   int64     `json:"size_bytes"`
	Description string    `json:"description,omitempty"`
}

// UpdateRequest changes the set fields of a model.
type UpdateRequest struct {
	Version     *string `json:"version,omitempty"`
	Description *string `json:"description,omitempty"`
	SizeBytes   *int64  `json:"size_bytes,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	Type     ModelType `json:"model_type,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Official *bool     `json:"is_official,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// InstalledModel links a registry entry to its install location.
type InstalledModel struct {
	Model       Model     `json:"model"`
	InstallPath string    `json:"install_path"`
	InstalledAt time.Time `json:"installed_at"`
	Status      Status    `json:"status"`
}

// Stats summarizes the registry.
type Stats struct {
	TotalModels    int               `json:"total_models"`
	InstalledCount int               `json:"installed_count"`
	RunningCount   int               `json:"running_count"`
	TotalSizeBytes int64             `json:"total_size_bytes"`
	ByType         map[ModelType]int `json:"models_by_type"`
}

// ModelService is the registry of known and installed models.
type ModelService interface {
	Create(ctx context.Context, req CreateRequest) (Model, error)
	Get(ctx context.Context, id string) (*Model, error)
	List(ctx context.Context, filter Filter) ([]Model, error)
	Update(ctx context.Context, id string, req UpdateRequest) (Model, error)
	Delete(ctx context.Context, id string) (bool, error)
	Install(ctx context.Context, id, installPath string) (InstalledModel, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Statistics(ctx context.Context) (Stats, error)
}
