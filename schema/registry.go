package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/signalcore/errors"
	"github.com/c360/signalcore/signal"
)

// Registry resolves topics to descriptors. It is immutable after
// construction, so lookups need no locking.
type Registry struct {
	exact     map[string]*compiled
	wildcards []*compiled
	timeouts  map[signal.Key]time.Duration
}

// compiled pairs a descriptor with its compiled JSON schema, if any.
type compiled struct {
	desc   Descriptor
	schema *gojsonschema.Schema
}

// NewRegistry validates and indexes the given descriptors. Duplicate topics
// and invalid descriptors fail construction.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{
		exact:    make(map[string]*compiled, len(descs)),
		timeouts: make(map[signal.Key]time.Duration),
	}

	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}

		c := &compiled{desc: d}

		if d.JSONSchema != "" {
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(d.JSONSchema))
			if err != nil {
				return nil, errors.WrapInvalid(err, "Registry", "NewRegistry",
					fmt.Sprintf("compile json schema for %s", d.Topic))
			}
			c.schema = s
		}

		if isWildcard(d.Topic) {
			r.wildcards = append(r.wildcards, c)
		} else {
			if _, exists := r.exact[d.Topic]; exists {
				return nil, errors.WrapInvalid(
					fmt.Errorf("duplicate descriptor for topic %s", d.Topic),
					"Registry", "NewRegistry", "index descriptor")
			}
			r.exact[d.Topic] = c
		}

		for _, f := range d.Fields {
			if d.Staleness > 0 {
				r.timeouts[f.Key] = d.Staleness
			}
		}
	}

	return r, nil
}

// Lookup resolves a topic path to its descriptor: exact match first, then
// wildcard descriptors in registration order.
func (r *Registry) Lookup(topic string) (Descriptor, bool) {
	if c, ok := r.exact[topic]; ok {
		return c.desc, true
	}
	for _, c := range r.wildcards {
		if topicMatches(c.desc.Topic, topic) {
			return c.desc, true
		}
	}
	return Descriptor{}, false
}

// Schema returns the compiled JSON schema for a topic, if the descriptor
// declares one.
func (r *Registry) Schema(topic string) *gojsonschema.Schema {
	if c, ok := r.exact[topic]; ok {
		return c.schema
	}
	for _, c := range r.wildcards {
		if topicMatches(c.desc.Topic, topic) {
			return c.schema
		}
	}
	return nil
}

// Timeout returns the staleness timeout registered for a signal key.
func (r *Registry) Timeout(key signal.Key) (time.Duration, bool) {
	d, ok := r.timeouts[key]
	return d, ok
}

// Timeouts returns a copy of all per-key staleness timeouts.
func (r *Registry) Timeouts() map[signal.Key]time.Duration {
	out := make(map[signal.Key]time.Duration, len(r.timeouts))
	for k, v := range r.timeouts {
		out[k] = v
	}
	return out
}

// Topics returns every registered topic pattern.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.exact)+len(r.wildcards))
	for t := range r.exact {
		topics = append(topics, t)
	}
	for _, c := range r.wildcards {
		topics = append(topics, c.desc.Topic)
	}
	return topics
}

func isWildcard(topic string) bool {
	return strings.HasSuffix(topic, "/*") || strings.HasSuffix(topic, "/>") ||
		strings.Contains(topic, "/*/")
}

// topicMatches reports whether a concrete topic path matches a pattern.
// "*" matches exactly one segment, ">" matches the remainder.
func topicMatches(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, seg := range p {
		if seg == ">" {
			return len(t) > i
		}
		if i >= len(t) {
			return false
		}
		if seg != "*" && seg != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
