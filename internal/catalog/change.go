package catalog

import "github.com/xdbcore/xdb/internal/observability"

// ObjectKind names the kind of catalog object a change touched.
type ObjectKind string

const (
	KindDatabase   ObjectKind = "database"
	KindTable      ObjectKind = "table"
	KindColumn     ObjectKind = "column"
	KindIndex      ObjectKind = "index"
	KindConstraint ObjectKind = "constraint"
	KindUser       ObjectKind = "user"
	KindView       ObjectKind = "view"
	KindTablespace ObjectKind = "tablespace"
	KindPermission ObjectKind = "permission"
)

// Action is what happened to the object.
type Action string

const (
	ActionCreate Action = "create"
	ActionAlter  Action = "alter"
	ActionDrop   Action = "drop"
)

// Change describes one applied catalog change.
type Change struct {
	Kind     ObjectKind `json:"kind"`
	Action   Action     `json:"action"`
	Database string     `json:"database,omitempty"`
	Object   string     `json:"object"`
}

// ChangeSink receives changes after they are applied to the catalog.
type ChangeSink interface {
	Publish(Change)
}

// SetChangeSink installs the receiver of applied changes.
func (md *MetaData) SetChangeSink(sink ChangeSink) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.sink = sink
}

// Notify counts changes and hands them to the change sink.
func (md *MetaData) Notify(changes ...Change) {
	md.mu.RLock()
	sink := md.sink
	md.mu.RUnlock()
	for _, c := range changes {
		observability.CatalogChangeCounter.WithLabelValues(string(c.Kind)).Inc()
		if sink != nil {
			sink.Publish(c)
		}
	}
}
