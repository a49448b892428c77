package tensileflow

import (
	"github.com/ghalamif/TensileFlow/internal/app/bench"
	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/drag"
	"github.com/ghalamif/TensileFlow/internal/export"
	"github.com/ghalamif/TensileFlow/internal/ports"
	"github.com/ghalamif/TensileFlow/internal/slope"
)

// Sample is one raw channel reading.
type Sample = domain.Sample

type (
	XY        = domain.XY
	Point     = domain.Point
	Session   = domain.Session
	Selection = domain.Selection

	// Engine is the analysis graph. Only code passed to Runtime.Do may touch it.
	Engine  = bench.Engine
	Summary = bench.Summary

	PointerEvent = drag.Event
	PointerState = drag.Pointer

	Slope     = slope.Value
	Aggregate = slope.Aggregate

	ExportResult  = export.Result
	ExportOutcome = export.Outcome
)

// Pointer event kinds.
const (
	PointerDown  = drag.Down
	PointerMove  = drag.Move
	PointerUp    = drag.Up
	PointerLeave = drag.Leave
)

// Export outcomes.
const (
	ExportComplete  = export.Complete
	ExportCancelled = export.Cancelled
	ExportFailed    = export.Failed
)

type (
	// Collector streams raw channel samples from a device transport.
	Collector = ports.Collector
	// SampleQueue buffers samples between the transport and the engine.
	SampleQueue = ports.SampleQueue
	// Transformer calibrates raw samples before they reach the engine.
	Transformer = ports.Transformer
	// Sink receives every batch the engine has accepted, e.g. for archiving.
	Sink          = ports.Sink
	Observability = ports.Observability
	Field         = ports.Field
	WAL           = ports.WAL
	WALStats      = ports.WALStats
	WALEntryID    = ports.WALEntryID
	QueuedSample  = ports.QueuedSample
)
