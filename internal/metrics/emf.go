// Package metrics emits CloudWatch Embedded Metrics Format (EMF) documents.
// Each document is one JSON line; CloudWatch Logs extracts the metrics from
// Lambda output, and locally the lines are simply part of the log stream.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultNamespace is the CloudWatch namespace for pipeline metrics.
const DefaultNamespace = "CardRestore"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Emitter creates Recorders that share a namespace and output.
// A nil or disabled Emitter creates Recorders whose Flush does nothing.
type Emitter struct {
	namespace string
	enabled   bool

	mu  sync.Mutex
	out io.Writer
}

// NewEmitter creates an Emitter writing to out (stdout when nil).
func NewEmitter(namespace string, enabled bool, out io.Writer) *Emitter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if out == nil {
		out = os.Stdout
	}
	return &Emitter{namespace: namespace, enabled: enabled, out: out}
}

// Enabled reports whether Flush writes anything.
func (e *Emitter) Enabled() bool {
	return e != nil && e.enabled
}

// New starts a Recorder for one operation. The Lambda function name, when
// present, is added as the FunctionName dimension.
func (e *Emitter) New() *Recorder {
	r := &Recorder{
		emitter:    e,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]any),
		properties: make(map[string]any),
	}
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		r.dimensions["FunctionName"] = fn
	}
	return r
}

func (e *Emitter) write(line []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintln(e.out, string(line))
}

// Recorder accumulates dimensions, metrics and properties for one flush.
// It is safe for concurrent use.
type Recorder struct {
	emitter *Emitter

	mu         sync.Mutex
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]any
	properties map[string]any
}

// Dimension adds an indexed dimension.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.mu.Lock()
	r.dimensions[key] = value
	r.mu.Unlock()
	return r
}

// Metric records a named value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.mu.Lock()
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	r.mu.Unlock()
	return r
}

// Count records a count metric with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Duration records d in milliseconds.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Microseconds())/1000, UnitMilliseconds)
}

// Since records the time elapsed since start in milliseconds.
func (r *Recorder) Since(name string, start time.Time) *Recorder {
	return r.Duration(name, time.Since(start))
}

// Property adds a searchable non-metric field.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.mu.Lock()
	r.properties[key] = value
	r.mu.Unlock()
	return r
}

// Flush writes the document as a single JSON line. The Recorder should not
// be reused afterwards.
func (r *Recorder) Flush() {
	if !r.emitter.Enabled() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.metrics) == 0 {
		return
	}

	doc := make(map[string]any, len(r.dimensions)+len(r.values)+len(r.properties)+1)

	metricDefs := make([]metricDef, 0, len(r.metrics))
	for _, m := range r.metrics {
		metricDefs = append(metricDefs, m)
	}
	sort.Slice(metricDefs, func(i, j int) bool { return metricDefs[i].Name < metricDefs[j].Name })

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.emitter.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}
	r.emitter.write(data)
}
