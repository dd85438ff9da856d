package remote

// listResponse is the body of every paged listing endpoint.
type listResponse struct {
	Chats      []map[string]any `json:"chats"`
	Total      int              `json:"total"`
	MostRecent string           `json:"most_recent,omitempty"`

	// Set instead of data when the service reports a domain condition.
	Signal  string `json:"signal,omitempty"`
	Message string `json:"message,omitempty"`
}

type folderResponse struct {
	Folders []struct {
		ID   any    `json:"id"`
		Name string `json:"name"`
	} `json:"folders"`
	Signal  string `json:"signal,omitempty"`
	Message string `json:"message,omitempty"`
}

// wireChat is the typed view of a raw chat object. Everything not mapped
// here is kept as remote payload.
type wireChat struct {
	CounterpartID  string         `mapstructure:"counterpart_id"`
	GroupID        string         `mapstructure:"group_id"`
	LastActivityAt string         `mapstructure:"last_activity_at"`
	Archived       *bool          `mapstructure:"archived"`
	Extra          map[string]any `mapstructure:",remain"`
}
