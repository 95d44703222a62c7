// Package mongomonitor records MongoDB commands through the driver's
// command monitoring events.
package mongomonitor

import (
	"context"
	"sync"
	"time"

	"3tcapital/telescope/internal/application/querylog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
)

// Commands whose execution is recorded.
var watchedCommands = map[string]bool{
	"find":          true,
	"insert":        true,
	"update":        true,
	"delete":        true,
	"findAndModify": true,
	"aggregate":     true,
	"count":         true,
	"distinct":      true,
}

type pending struct {
	ctx        context.Context
	method     string
	collection string
	query      string
	start      time.Time
}

// Monitor correlates started and finished command events by request id.
type Monitor struct {
	logger   *querylog.Logger
	inflight sync.Map
	now      func() time.Time
}

// New returns a monitor reporting to logger. Pass CommandMonitor() to
// options.Client().SetMonitor on the host's client.
func New(logger *querylog.Logger) *Monitor {
	return &Monitor{logger: logger, now: time.Now}
}

// CommandMonitor returns the driver hooks.
func (m *Monitor) CommandMonitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started:   m.started,
		Succeeded: m.succeeded,
		Failed:    m.failed,
	}
}

func (m *Monitor) started(ctx context.Context, evt *event.CommandStartedEvent) {
	if !m.logger.Enabled() || !watchedCommands[evt.CommandName] {
		return
	}

	collection, _ := evt.Command.Lookup(evt.CommandName).StringValueOK()
	if m.logger.Ignored(collection) {
		return
	}

	m.inflight.Store(evt.RequestID, pending{
		ctx:        ctx,
		method:     evt.CommandName,
		collection: collection,
		query:      commandText(evt.Command),
		start:      m.now(),
	})
}

func (m *Monitor) succeeded(_ context.Context, evt *event.CommandSucceededEvent) {
	p, ok := m.take(evt.RequestID)
	if !ok {
		return
	}
	m.logger.Observe(p.ctx, querylog.Observation{
		Method:     p.method,
		Query:      p.query,
		Collection: p.collection,
		Start:      p.start,
		Duration:   evt.Duration,
		Result:     evt.Reply.String(),
	})
}

func (m *Monitor) failed(_ context.Context, evt *event.CommandFailedEvent) {
	p, ok := m.take(evt.RequestID)
	if !ok {
		return
	}
	m.logger.Observe(p.ctx, querylog.Observation{
		Method:     p.method,
		Query:      p.query,
		Collection: p.collection,
		Start:      p.start,
		Duration:   evt.Duration,
		Err:        commandError(evt.Failure),
	})
}

func (m *Monitor) take(requestID int64) (pending, bool) {
	v, ok := m.inflight.LoadAndDelete(requestID)
	if !ok {
		return pending{}, false
	}
	return v.(pending), true
}

// Keys the driver adds to every command that say nothing about the query.
var sessionKeys = map[string]bool{
	"lsid":            true,
	"$clusterTime":    true,
	"$db":             true,
	"txnNumber":       true,
	"$readPreference": true,
}

// commandText renders the command as relaxed extended JSON without driver
// bookkeeping fields.
func commandText(cmd bson.Raw) string {
	elems, err := cmd.Elements()
	if err != nil {
		return cmd.String()
	}

	doc := bson.D{}
	for _, el := range elems {
		if sessionKeys[el.Key()] {
			continue
		}
		doc = append(doc, bson.E{Key: el.Key(), Value: el.Value()})
	}

	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return cmd.String()
	}
	return string(out)
}

type commandError string

func (e commandError) Error() string { return string(e) }
