package models

// WeaviateObject represents an object stored in Weaviate
type WeaviateObject struct {
	ID                 string                 `json:"id"`
	Class              string                 `json:"class"`
	Properties         map[string]interface{} `json:"properties"`
	CreationTimeUnix   int64                  `json:"creationTimeUnix,omitempty"`
	LastUpdateTimeUnix int64                  `json:"lastUpdateTimeUnix,omitempty"`
}

// ObjectKey returns the unique key for an object
func ObjectKey(className, objectID string) string {
	return RecordKey(className, objectID)
}
