package build

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/sofmeright/dockrun/src/pipeline"
)

// Contribution is what a plugin adds to the build context. Zero fields are
// ignored when merging.
type Contribution struct {
	ImageID   string                    // replaces the current image id
	Artifacts []string                  // appended
	Labels    map[string]string         // merged, plugin wins
	Values    map[string]pipeline.Value // merged, plugin wins
}

// Context is the mutable state threaded through every plugin of one run.
// It is owned by a single run and touched by one plugin at a time, so it
// carries no lock.
type Context struct {
	BuildID   string
	StartedAt time.Time
	ImageID   string
	Artifacts []string
	Labels    map[string]string
	Values    map[string]pipeline.Value

	// Outputs records each plugin's contribution by plugin name. A plugin
	// listed twice keeps the later contribution.
	Outputs map[string]*Contribution
}

// NewContext returns an empty context for a run.
func NewContext(buildID string) *Context {
	return &Context{
		BuildID:   buildID,
		StartedAt: time.Now(),
		Labels:    map[string]string{},
		Values:    map[string]pipeline.Value{},
		Outputs:   map[string]*Contribution{},
	}
}

// Merge folds a plugin's contribution into the context.
func (c *Context) Merge(plugin string, contrib *Contribution) {
	if contrib == nil {
		return
	}
	if contrib.ImageID != "" {
		c.ImageID = contrib.ImageID
	}
	c.Artifacts = append(c.Artifacts, contrib.Artifacts...)
	maps.Copy(c.Labels, contrib.Labels)
	maps.Copy(c.Values, contrib.Values)
	c.Outputs[plugin] = contrib
}

// Value looks up a value contributed by an earlier plugin.
func (c *Context) Value(key string) (pipeline.Value, bool) {
	v, ok := c.Values[key]
	return v, ok
}

// MarshalJSON renders the context for metadata storage.
func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BuildID   string                    `json:"build_id,omitempty"`
		StartedAt time.Time                 `json:"started_at"`
		ImageID   string                    `json:"image_id,omitempty"`
		Artifacts []string                  `json:"artifacts,omitempty"`
		Labels    map[string]string         `json:"labels,omitempty"`
		Values    map[string]pipeline.Value `json:"values,omitempty"`
	}{c.BuildID, c.StartedAt, c.ImageID, c.Artifacts, c.Labels, c.Values})
}
