package types

// Model represents a model file discovered on disk.
type Model struct {
	// Stable identifier for the model (file name).
	// example: tinyllama-q4.gguf
	ID string `json:"id" example:"tinyllama-q4.gguf"`
	// Absolute path to the model file on disk. This is the value clients send as model_path.
	// example: /home/user/models/tinyllama-q4.gguf
	Path string `json:"path" example:"/home/user/models/tinyllama-q4.gguf"`
	// Architecture declared in the file header (general.architecture).
	// example: llama
	Architecture string `json:"architecture,omitempty" example:"llama"`
	// File size in MB, used as the memory estimate for budgeting.
	// example: 638
	SizeMB int `json:"size_mb" example:"638"`
	// Error reported while reading the header, if any.
	Error string `json:"error,omitempty"`
}
